package slots

type Slot struct {
	Start    string `yaml:"start"` // "HH:MM"
	End      string `yaml:"end"`
	Capacity int    `yaml:"capacity"`
}

func (s Slot) Label() string {
	return s.Start + "-" + s.End
}

type Availability struct {
	Slot      string
	Label     string
	Capacity  int
	Occupied  int
	Remaining int
	Available bool
}
