package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func newViperFromYAML(t *testing.T, doc string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	SetDefaults(v)
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))
	return v
}

const minimalYAML = `
source:
  name: trojmiasto
  url_template: "https://a.pl/list/?strona={page}"
  link_selector: "a.offer"
units:
  - id: gdansk
    city: "Gdańsk"
    deal: sprzedaz
    kind: mieszkanie
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(newViperFromYAML(t, minimalYAML))
	require.NoError(t, err)

	require.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	require.Equal(t, 5, cfg.HTTP.MaxRetries)
	require.Equal(t, time.Second, cfg.HTTP.BackoffInitial)
	require.Equal(t, 20*time.Second, cfg.HTTP.BackoffMax)
	require.Equal(t, 0.5, cfg.HTTP.RatePerHost)
	require.Equal(t, 200, cfg.Discover.MaxPages)
	require.Equal(t, 2, cfg.Discover.RetryRounds)
	require.Equal(t, 30*time.Second, cfg.Discover.RetrySleep)
	require.Equal(t, "data/discovered_urls.csv", cfg.IO.OutputCSV)
	require.False(t, cfg.Server.Enabled)
}

func TestLoadOverridesFromFile(t *testing.T) {
	cfg, err := Load(newViperFromYAML(t, minimalYAML+`
http:
  timeout: 10s
  rate_per_host: 2
discover:
  max_pages: 12
  retry_sleep: 5m
  limit: 100
`))
	require.NoError(t, err)

	require.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	require.Equal(t, 2.0, cfg.HTTP.RatePerHost)
	require.Equal(t, 12, cfg.Discover.MaxPages)
	require.Equal(t, 5*time.Minute, cfg.Discover.RetrySleep)
	require.Equal(t, 100, cfg.Discover.Limit)
}

func TestLoadValidation(t *testing.T) {
	_, err := Load(newViperFromYAML(t, `
source:
  name: x
  url_template: "https://a.pl/?p={page}"
  link_selector: a
`))
	require.ErrorContains(t, err, "at least one unit")

	_, err = Load(newViperFromYAML(t, minimalYAML+`
discover:
  max_pages: 0
`))
	require.ErrorContains(t, err, "max_pages")

	_, err = Load(newViperFromYAML(t, `
source:
  name: x
  url_template: "https://a.pl/?p={page}"
  link_selector: a
units:
  - id: gdansk
  - id: gdansk
`))
	require.ErrorContains(t, err, "duplicate id")
}

func TestCrawlUnits(t *testing.T) {
	cfg, err := Load(newViperFromYAML(t, minimalYAML))
	require.NoError(t, err)

	units := cfg.CrawlUnits()
	require.Len(t, units, 1)
	require.Equal(t, "gdansk", units[0].ID)
	require.Equal(t, "Gdańsk", units[0].City)
	require.Equal(t, "sprzedaz", units[0].Deal)
	require.Equal(t, "mieszkanie", units[0].Kind)
}
