package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PriceRule selects one price per currency inside an item container.
type PriceRule struct {
	Currency string `yaml:"currency"`
	Selector string `yaml:"selector"`
}

// NextPageRule locates the pagination link.
type NextPageRule struct {
	Selector  string `yaml:"selector"`
	Text      string `yaml:"text"`
	Attribute string `yaml:"attribute"`
}

// ExtractRules is the per-store extraction rule set. Selectors are CSS
// queries; relative links and images are resolved against SiteRootURL.
type ExtractRules struct {
	BaseURL        string        `yaml:"base_url"`
	SiteRootURL    string        `yaml:"site_root_url"`
	ItemContainer  string        `yaml:"item_container"`
	Name           string        `yaml:"name"`
	Link           string        `yaml:"link"`
	Image          string        `yaml:"image"`
	PriceContainer string        `yaml:"price_container"`
	Prices         []PriceRule   `yaml:"prices"`
	SoldOut        string        `yaml:"sold_out"`
	NextPage       NextPageRule  `yaml:"next_page"`
	Encoding       string        `yaml:"encoding"`
	RequestDelay   Duration      `yaml:"request_delay"`
}

// ScheduleField is either the wildcard "*" or a list of integers.
type ScheduleField struct {
	Wildcard bool
	Values   []int
}

// UnmarshalYAML accepts "*" or a sequence of integers.
func (f *ScheduleField) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err == nil && s == "*" {
			f.Wildcard = true
			return nil
		}
		return fmt.Errorf("schedule field must be \"*\" or a list of integers, got %q", value.Value)
	}
	if err := value.Decode(&f.Values); err != nil {
		return fmt.Errorf("schedule field: %w", err)
	}
	return nil
}

// matches reports whether v passes this field.
func (f ScheduleField) matches(v int) bool {
	if f.Wildcard {
		return true
	}
	for _, want := range f.Values {
		if v == want {
			return true
		}
	}
	return false
}

// ScheduleSpec is a cron-like per-store schedule. Minutes is a required
// list; the remaining fields may be the wildcard.
type ScheduleSpec struct {
	Minutes []int         `yaml:"minutes"`
	Hours   ScheduleField `yaml:"hours"`
	Days    ScheduleField `yaml:"days"`
	Months  ScheduleField `yaml:"months"`
	Years   ScheduleField `yaml:"years"`
}

// Matches reports whether the schedule fires at time t.
func (s ScheduleSpec) Matches(t time.Time) bool {
	minuteOK := false
	for _, m := range s.Minutes {
		if t.Minute() == m {
			minuteOK = true
			break
		}
	}
	if !minuteOK {
		return false
	}
	return s.Hours.matches(t.Hour()) &&
		s.Days.matches(t.Day()) &&
		s.Months.matches(int(t.Month())) &&
		s.Years.matches(t.Year())
}

// StoreConfig describes one watched store: identity, extraction rules and
// crawl schedule. Loaded once at startup and treated as immutable.
type StoreConfig struct {
	Name       string       `yaml:"name"`
	NameFormat string       `yaml:"name_format"`
	Options    ExtractRules `yaml:"options"`
	Schedule   ScheduleSpec `yaml:"schedule"`
}

// LoadStores reads and validates the store configuration file.
func LoadStores(path string) ([]StoreConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stores file: %w", err)
	}

	var stores []StoreConfig
	if err := yaml.Unmarshal(data, &stores); err != nil {
		return nil, fmt.Errorf("parse stores file: %w", err)
	}

	seen := make(map[string]bool, len(stores))
	for i := range stores {
		if err := stores[i].validate(); err != nil {
			return nil, err
		}
		if seen[stores[i].Name] {
			return nil, fmt.Errorf("duplicate store name %q", stores[i].Name)
		}
		seen[stores[i].Name] = true
	}

	return stores, nil
}

func (s *StoreConfig) validate() error {
	if s.Name == "" {
		return fmt.Errorf("store with empty name")
	}
	if s.NameFormat == "" {
		s.NameFormat = s.Name
	}
	if s.Options.BaseURL == "" {
		return fmt.Errorf("store %q: base_url is required", s.Name)
	}
	if s.Options.ItemContainer == "" {
		return fmt.Errorf("store %q: item_container is required", s.Name)
	}
	// A field omitted in YAML is the zero value, which would match nothing;
	// treat omission as the wildcard.
	for _, f := range []*ScheduleField{&s.Schedule.Hours, &s.Schedule.Days, &s.Schedule.Months, &s.Schedule.Years} {
		if !f.Wildcard && len(f.Values) == 0 {
			f.Wildcard = true
		}
	}
	if len(s.Schedule.Minutes) == 0 {
		return fmt.Errorf("store %q: schedule.minutes must be a non-empty list", s.Name)
	}
	for _, m := range s.Schedule.Minutes {
		if m < 0 || m > 59 {
			return fmt.Errorf("store %q: schedule minute %d out of range", s.Name, m)
		}
	}
	return nil
}
