package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStores = `
- name: tokyo-figures
  name_format: Tokyo Figures
  options:
    base_url: https://shop.example.jp/list
    site_root_url: https://shop.example.jp
    item_container: li.item
    name: p.name
    link: a
    image: img
    prices:
      - currency: JPY
        selector: span.price
    sold_out: span.soldout
    next_page:
      selector: a.pager
      text: next
      attribute: href
    encoding: euc-jp
    request_delay: 5s
  schedule:
    minutes: [0, 30]
    hours: "*"
    days: [1]
    months: "*"
    years: "*"
- name: berlin-vinyl
  options:
    base_url: https://vinyl.example.de/catalog
    site_root_url: https://vinyl.example.de
    item_container: div.product
    name: h3
    link: a.detail
    image: img.cover
    prices:
      - currency: EUR
        selector: span.amount
    next_page:
      selector: a.next
      text: weiter
      attribute: href
  schedule:
    minutes: [15]
    hours: [8, 20]
    days: "*"
    months: "*"
    years: "*"
`

func writeStores(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stores.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadStores(t *testing.T) {
	stores, err := LoadStores(writeStores(t, sampleStores))
	require.NoError(t, err)
	require.Len(t, stores, 2)

	first := stores[0]
	assert.Equal(t, "tokyo-figures", first.Name)
	assert.Equal(t, "Tokyo Figures", first.NameFormat)
	assert.Equal(t, "https://shop.example.jp/list", first.Options.BaseURL)
	assert.Equal(t, "euc-jp", first.Options.Encoding)
	assert.Equal(t, 5*time.Second, first.Options.RequestDelay.Duration)
	assert.Equal(t, []int{0, 30}, first.Schedule.Minutes)
	assert.True(t, first.Schedule.Hours.Wildcard)
	assert.Equal(t, []int{1}, first.Schedule.Days.Values)

	// Display label defaults to the store name
	assert.Equal(t, "berlin-vinyl", stores[1].NameFormat)
	assert.Equal(t, []int{8, 20}, stores[1].Schedule.Hours.Values)
}

func TestLoadStoresRejectsDuplicates(t *testing.T) {
	content := sampleStores + `
- name: tokyo-figures
  options:
    base_url: https://other.example.jp/
    item_container: li
  schedule:
    minutes: [5]
`
	_, err := LoadStores(writeStores(t, content))
	assert.ErrorContains(t, err, "duplicate store name")
}

func TestLoadStoresValidation(t *testing.T) {
	_, err := LoadStores(writeStores(t, `
- name: broken
  options:
    base_url: https://example.com/
    item_container: li
  schedule:
    minutes: []
`))
	assert.ErrorContains(t, err, "minutes")

	_, err = LoadStores(writeStores(t, `
- name: broken
  options:
    item_container: li
  schedule:
    minutes: [0]
`))
	assert.ErrorContains(t, err, "base_url")

	_, err = LoadStores(writeStores(t, `
- name: broken
  options:
    base_url: https://example.com/
    item_container: li
  schedule:
    minutes: [61]
`))
	assert.ErrorContains(t, err, "out of range")
}

func TestScheduleFieldUnmarshal(t *testing.T) {
	_, err := LoadStores(writeStores(t, `
- name: broken
  options:
    base_url: https://example.com/
    item_container: li
  schedule:
    minutes: [0]
    hours: sometimes
`))
	assert.ErrorContains(t, err, "schedule field")
}

func TestScheduleOmittedFieldsDefaultToWildcard(t *testing.T) {
	stores, err := LoadStores(writeStores(t, `
- name: minimal
  options:
    base_url: https://example.com/
    item_container: li
  schedule:
    minutes: [30]
`))
	require.NoError(t, err)
	require.Len(t, stores, 1)

	spec := stores[0].Schedule
	assert.True(t, spec.Hours.Wildcard)
	assert.True(t, spec.Days.Wildcard)
	assert.True(t, spec.Months.Wildcard)
	assert.True(t, spec.Years.Wildcard)

	// The store actually fires at its minute, any hour of any day.
	assert.True(t, spec.Matches(time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)))
	assert.True(t, spec.Matches(time.Date(2026, 7, 15, 23, 30, 0, 0, time.UTC)))
	assert.False(t, spec.Matches(time.Date(2026, 7, 15, 23, 0, 0, 0, time.UTC)))
}

func TestScheduleSpecMatches(t *testing.T) {
	spec := ScheduleSpec{
		Minutes: []int{0, 30},
		Hours:   ScheduleField{Wildcard: true},
		Days:    ScheduleField{Values: []int{1}},
		Months:  ScheduleField{Wildcard: true},
		Years:   ScheduleField{Wildcard: true},
	}

	assert.True(t, spec.Matches(time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)))
	assert.True(t, spec.Matches(time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)))
	assert.False(t, spec.Matches(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)), "day not in list")
	assert.False(t, spec.Matches(time.Date(2026, 3, 1, 14, 15, 0, 0, time.UTC)), "minute not in list")
}

func TestScheduleSpecAllFields(t *testing.T) {
	spec := ScheduleSpec{
		Minutes: []int{45},
		Hours:   ScheduleField{Values: []int{9}},
		Days:    ScheduleField{Values: []int{24}},
		Months:  ScheduleField{Values: []int{12}},
		Years:   ScheduleField{Values: []int{2026}},
	}

	assert.True(t, spec.Matches(time.Date(2026, 12, 24, 9, 45, 0, 0, time.UTC)))
	assert.False(t, spec.Matches(time.Date(2027, 12, 24, 9, 45, 0, 0, time.UTC)))
	assert.False(t, spec.Matches(time.Date(2026, 11, 24, 9, 45, 0, 0, time.UTC)))
}
