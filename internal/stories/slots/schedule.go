package slots

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFirstHour = 8
	DefaultLastHour  = 18
)

// Schedule is the fixed set of bookable slots.
type Schedule struct {
	slots []Slot
	index map[string]Slot
}

// DefaultSchedule returns one-hour slots from 08:00 to 18:00.
func DefaultSchedule(capacity int) (*Schedule, error) {
	slots := make([]Slot, 0, DefaultLastHour-DefaultFirstHour)
	for h := DefaultFirstHour; h < DefaultLastHour; h++ {
		slots = append(slots, Slot{
			Start:    fmt.Sprintf("%02d:00", h),
			End:      fmt.Sprintf("%02d:00", h+1),
			Capacity: capacity,
		})
	}
	return NewSchedule(slots)
}

func NewSchedule(slots []Slot) (*Schedule, error) {
	if len(slots) == 0 {
		return nil, errors.New("schedule has no slots")
	}

	index := make(map[string]Slot, len(slots))
	for _, slot := range slots {
		if _, err := time.Parse("15:04", slot.Start); err != nil {
			return nil, errors.Wrapf(err, "slot start %q", slot.Start)
		}
		if _, err := time.Parse("15:04", slot.End); err != nil {
			return nil, errors.Wrapf(err, "slot end %q", slot.End)
		}
		if slot.Capacity <= 0 {
			return nil, errors.Errorf("slot %s: capacity must be positive", slot.Start)
		}
		if _, dup := index[slot.Start]; dup {
			return nil, errors.Errorf("slot %s declared twice", slot.Start)
		}
		index[slot.Start] = slot
	}

	return &Schedule{slots: slots, index: index}, nil
}

type scheduleFile struct {
	DefaultCapacity int    `yaml:"default_capacity"`
	Slots           []Slot `yaml:"slots"`
}

// LoadSchedule reads a YAML slot list. Slots without a capacity get
// default_capacity from the file, or fallbackCapacity.
func LoadSchedule(path string, fallbackCapacity int) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read schedule file")
	}

	var file scheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parse schedule file")
	}

	capacity := lo.Ternary(file.DefaultCapacity > 0, file.DefaultCapacity, fallbackCapacity)
	slots := lo.Map(file.Slots, func(s Slot, _ int) Slot {
		if s.Capacity == 0 {
			s.Capacity = capacity
		}
		return s
	})

	return NewSchedule(slots)
}

func (s *Schedule) Slots() []Slot {
	return append([]Slot(nil), s.slots...)
}

func (s *Schedule) Get(start string) (Slot, bool) {
	slot, ok := s.index[start]
	return slot, ok
}
