package data

import (
	"fmt"
	"time"

	"GradeLane/internal/biz"
	"GradeLane/internal/conf"
	"GradeLane/pkg/gemini"
	"GradeLane/pkg/ollama"
	"GradeLane/pkg/openai"

	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/protobuf/types/known/durationpb"
)

const defaultProviderTimeout = 2 * time.Minute

// NewGraderSet builds the provider lineup from configuration: Gemini as
// primary, OpenAI then Ollama as fallbacks when configured.
func NewGraderSet(c *conf.Providers, logger log.Logger) (*biz.GraderSet, error) {
	helper := log.NewHelper(logger)

	if c == nil || c.Gemini == nil {
		return nil, fmt.Errorf("gemini provider configuration is required")
	}

	primary, err := gemini.New(gemini.Config{
		Model:    c.Gemini.Model,
		ProxyURL: c.Gemini.ProxyUrl,
		Timeout:  timeoutOrDefault(c.Gemini.Timeout),
	})
	if err != nil {
		return nil, err
	}

	set := &biz.GraderSet{Primary: primary}

	if c.Openai != nil && len(c.Openai.ApiKeys) > 0 {
		fallback, err := openai.New(openai.Config{
			Model:    c.Openai.Model,
			ProxyURL: c.Openai.ProxyUrl,
			Timeout:  timeoutOrDefault(c.Openai.Timeout),
		})
		if err != nil {
			return nil, err
		}
		set.Fallbacks = append(set.Fallbacks, fallback)
	}

	if c.Ollama != nil && c.Ollama.Enabled {
		local, err := ollama.New(ollama.Config{
			BaseURL: c.Ollama.Endpoint,
			Model:   c.Ollama.Model,
			Timeout: timeoutOrDefault(c.Ollama.Timeout),
		})
		if err != nil {
			return nil, err
		}
		set.Fallbacks = append(set.Fallbacks, local)
	}

	names := make([]string, 0, 1+len(set.Fallbacks))
	names = append(names, set.Primary.Name())
	for _, g := range set.Fallbacks {
		names = append(names, g.Name())
	}
	helper.Infof("grading providers: %v", names)

	return set, nil
}

// timeoutOrDefault guards against a missing provider timeout.
func timeoutOrDefault(d *durationpb.Duration) time.Duration {
	if d == nil {
		return defaultProviderTimeout
	}
	if v := d.AsDuration(); v > 0 {
		return v
	}
	return defaultProviderTimeout
}
