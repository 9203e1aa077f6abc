// Package normalize converts provider-native records into canonical activity and sleep records.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/healthsync/internal/providers"
	"github.com/tyemirov/healthsync/internal/records"
)

var (
	// ErrNoMapper indicates no mapper is registered for a record's provider.
	ErrNoMapper = errors.New("normalize.no_mapper")
	// ErrUnknownActivityType marks native activities whose type has no canonical equivalent.
	ErrUnknownActivityType = errors.New("normalize.unknown_activity_type")
	// ErrUnmappableRecord marks native records missing a field normalization needs.
	ErrUnmappableRecord = errors.New("normalize.unmappable_record")
)

// Mapper converts one provider's native records.
type Mapper interface {
	ProviderID() string
	Activity(native providers.NativeActivity, dateRange providers.DateRange) (records.ActivityRecord, error)
	Sleep(native providers.NativeSleep, dateRange providers.DateRange) (records.SleepRecord, error)
}

// Result is the canonical output for one batch.
type Result struct {
	Activities []records.ActivityRecord
	Sleep      []records.SleepRecord
	// Dropped counts records with an unknown type or missing fields.
	Dropped int
	// Discarded counts records whose provider-local date falls outside the range.
	Discarded int
}

// Normalizer dispatches native records to the mapper registered for their provider.
type Normalizer struct {
	mappers map[string]Mapper
	logger  *zap.Logger
}

// New registers the given mappers. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger, mappers ...Mapper) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	registered := make(map[string]Mapper, len(mappers))
	for _, mapper := range mappers {
		registered[mapper.ProviderID()] = mapper
	}
	return &Normalizer{mappers: registered, logger: logger}
}

// NewDefault registers mappers for every supported provider.
func NewDefault(logger *zap.Logger) *Normalizer {
	return New(logger, FitbitMapper{}, GoogleFitMapper{}, StravaMapper{}, WithingsMapper{})
}

// Normalize maps a fetched batch. The output is a pure function of the input, so running it
// twice on the same batch yields identical records.
func (normalizer *Normalizer) Normalize(providerID string, batch providers.Batch, dateRange providers.DateRange) (Result, error) {
	mapper, ok := normalizer.mappers[providerID]
	if !ok {
		return Result{}, fmt.Errorf("normalize.%s: %w", providerID, ErrNoMapper)
	}
	result := Result{
		Activities: make([]records.ActivityRecord, 0, len(batch.Activities)),
		Sleep:      make([]records.SleepRecord, 0, len(batch.Sleep)),
	}

	for _, native := range batch.Activities {
		record, err := mapper.Activity(native, dateRange)
		if err != nil {
			result.Dropped++
			normalizer.logger.Warn("dropping activity",
				zap.String("code", dropCode(err)),
				zap.String("provider", providerID),
				zap.String("native_id", native.NativeID()),
				zap.Error(err),
			)
			continue
		}
		if !dateRange.ContainsDay(record.StartTimeUTC, zoneOf(record.Timezone, dateRange)) {
			result.Discarded++
			continue
		}
		result.Activities = append(result.Activities, record)
	}

	for _, native := range batch.Sleep {
		record, err := mapper.Sleep(native, dateRange)
		if err != nil {
			result.Dropped++
			normalizer.logger.Warn("dropping sleep",
				zap.String("code", dropCode(err)),
				zap.String("provider", providerID),
				zap.String("native_id", native.NativeID()),
				zap.Error(err),
			)
			continue
		}
		// sleep belongs to the day the user woke up
		if !dateRange.ContainsDay(record.EndTime, nil) {
			result.Discarded++
			continue
		}
		result.Sleep = append(result.Sleep, record)
	}
	return result, nil
}

func dropCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownActivityType):
		return "normalize.unknown_activity_type"
	case errors.Is(err, ErrUnmappableRecord):
		return "normalize.unmappable_record"
	default:
		return "normalize.mapping_failed"
	}
}

func zoneOf(name string, dateRange providers.DateRange) *time.Location {
	if name == "" {
		return dateRange.Location()
	}
	if location, err := time.LoadLocation(name); err == nil {
		return location
	}
	if location, ok := parseOffsetZone(name); ok {
		return location
	}
	return dateRange.Location()
}

// offsetZoneName names the fixed offset carried by instant, e.g. "UTC-05:00".
func offsetZoneName(instant time.Time) string {
	_, offsetSeconds := instant.Zone()
	if offsetSeconds == 0 {
		return "UTC"
	}
	sign := '+'
	if offsetSeconds < 0 {
		sign = '-'
		offsetSeconds = -offsetSeconds
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, offsetSeconds/3600, offsetSeconds%3600/60)
}

// parseOffsetZone reverses offsetZoneName.
func parseOffsetZone(name string) (*time.Location, bool) {
	offset, found := strings.CutPrefix(name, "UTC")
	if !found {
		return nil, false
	}
	parsed, err := time.Parse("-07:00", offset)
	if err != nil {
		return nil, false
	}
	_, offsetSeconds := parsed.Zone()
	return time.FixedZone(name, offsetSeconds), true
}

func unknownType(providerID string, nativeType any) error {
	return fmt.Errorf("normalize.%s.%v: %w", providerID, nativeType, ErrUnknownActivityType)
}

func unmappable(providerID string, field string, err error) error {
	if err != nil {
		return fmt.Errorf("normalize.%s.%s: %w: %w", providerID, field, ErrUnmappableRecord, err)
	}
	return fmt.Errorf("normalize.%s.%s: %w", providerID, field, ErrUnmappableRecord)
}

func wrongType(providerID string, native any) error {
	return fmt.Errorf("normalize.%s: unexpected native type %T: %w", providerID, native, ErrUnmappableRecord)
}

func millisToSeconds(millis int64) int64 {
	return millis / 1000
}
