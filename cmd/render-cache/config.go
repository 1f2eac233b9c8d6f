package main

import (
	"os"
	"time"

	rendercache "github.com/always-cache/render-cache"
	"github.com/always-cache/render-cache/site"

	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        int               `yaml:"port"`
	Source      SourceConfig      `yaml:"source"`
	Preferences PreferencesConfig `yaml:"preferences"`
	Blog        BlogConfig        `yaml:"blog"`
	Policies    PoliciesConfig    `yaml:"policies"`
	Prewarm     PrewarmConfig     `yaml:"prewarm"`
}

type SourceConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

type PreferencesConfig struct {
	// DB file name, "memory" for an in-memory db.
	DB string `yaml:"db"`
}

type BlogConfig struct {
	ListSize     int  `yaml:"listSize"`
	StaticPosts  int  `yaml:"staticPosts"`
	StrictStatic bool `yaml:"strictStatic"`
}

// PoliciesConfig holds policies in their textual form, e.g. "revalidate=60".
type PoliciesConfig struct {
	About    string `yaml:"about"`
	BlogList string `yaml:"blogList"`
	BlogPost string `yaml:"blogPost"`
	Author   string `yaml:"author"`
}

type PrewarmConfig struct {
	Concurrency int `yaml:"concurrency"`
}

func defaultConfig() Config {
	return Config{
		Port: 8080,
		Source: SourceConfig{
			Timeout: 10 * time.Second,
		},
		Preferences: PreferencesConfig{
			DB: "preferences.db",
		},
		Blog: BlogConfig{
			ListSize:    12,
			StaticPosts: 10,
		},
		Policies: PoliciesConfig{
			About:    "no-store",
			BlogList: "force-cache",
			BlogPost: "revalidate=60",
			Author:   "revalidate=60",
		},
		Prewarm: PrewarmConfig{
			Concurrency: 4,
		},
	}
}

// getConfig returns the default config overlaid with the given file, if any.
func getConfig(filename string) (Config, error) {
	config := defaultConfig()
	if filename == "" {
		return config, nil
	}
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, zerr.Wrap(err, "failed to read config file")
	}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, zerr.Wrap(err, "failed to parse config file")
	}
	return config, nil
}

// policies parses the configured policies.
func (c Config) policies() (site.Policies, error) {
	var (
		p   site.Policies
		err error
	)
	for _, field := range []struct {
		name   string
		value  string
		policy *rendercache.Policy
	}{
		{"about", c.Policies.About, &p.About},
		{"blogList", c.Policies.BlogList, &p.BlogList},
		{"blogPost", c.Policies.BlogPost, &p.BlogPost},
		{"author", c.Policies.Author, &p.Author},
	} {
		if *field.policy, err = rendercache.ParsePolicy(field.value); err != nil {
			return p, zerr.Wrap(err, "invalid policy for "+field.name)
		}
	}
	return p, nil
}

// dbFilename maps the configured db name to a sqlite file name.
func (c Config) dbFilename() string {
	if c.Preferences.DB == "memory" {
		return ""
	}
	return c.Preferences.DB
}
