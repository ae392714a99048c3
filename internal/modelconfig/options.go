package modelconfig

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"sigs.k8s.io/yaml"
)

// #region options

// Options lists the values each ModelConfig field may take. The worklist is
// their cartesian product.
type Options struct {
	Architectures []string `json:"architectures"`
	Datasets      []string `json:"datasets"`
	Losses        []string `json:"losses"`
	Optimizers    []string `json:"optimizers"`
}

// Count returns the number of model configurations the options expand to.
func (o Options) Count() int {
	return len(o.Architectures) * len(o.Datasets) * len(o.Losses) * len(o.Optimizers)
}

// Models expands the options with the architecture outermost and the optimizer innermost.
func (o Options) Models() []ModelConfig {
	models := make([]ModelConfig, 0, o.Count())
	for _, a := range o.Architectures {
		for _, d := range o.Datasets {
			for _, l := range o.Losses {
				for _, opt := range o.Optimizers {
					models = append(models, ModelConfig{
						Architecture: a,
						Dataset:      d,
						Loss:         l,
						Optimizer:    opt,
					})
				}
			}
		}
	}
	return models
}

// Validate rejects blank entries.
func (o Options) Validate() error {
	lists := []struct {
		name   string
		values []string
	}{
		{"architectures", o.Architectures},
		{"datasets", o.Datasets},
		{"losses", o.Losses},
		{"optimizers", o.Optimizers},
	}
	for _, l := range lists {
		for i, v := range l.values {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("%s[%d] is blank", l.name, i)
			}
		}
	}
	return nil
}

// ParseOptions decodes YAML or JSON option lists.
func ParseOptions(data []byte) (Options, error) {
	var opts Options
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("parse options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}

// #endregion options

// #region catalog

// FetchFunc retrieves the option lists from wherever they live.
type FetchFunc func(ctx context.Context) (Options, error)

// FileFetcher reads options from a YAML or JSON file.
func FileFetcher(path string) FetchFunc {
	return func(ctx context.Context) (Options, error) {
		if err := ctx.Err(); err != nil {
			return Options{}, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Options{}, fmt.Errorf("read options %s: %w", path, err)
		}
		return ParseOptions(data)
	}
}

// StaticFetcher always returns opts.
func StaticFetcher(opts Options) FetchFunc {
	return func(context.Context) (Options, error) { return opts, nil }
}

// Catalog is a Source backed by a FetchFunc. It is empty until Load succeeds.
type Catalog struct {
	fetch FetchFunc

	mu   sync.RWMutex
	opts Options
}

// NewCatalog creates a catalog that loads its options through fetch.
func NewCatalog(fetch FetchFunc) *Catalog {
	return &Catalog{fetch: fetch}
}

// Load replaces the current options with freshly fetched ones.
func (c *Catalog) Load(ctx context.Context) error {
	opts, err := c.fetch(ctx)
	if err != nil {
		return fmt.Errorf("load options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("load options: %w", err)
	}
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
	return nil
}

// Options returns the loaded option lists.
func (c *Catalog) Options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// ModelCount returns the size of the worklist.
func (c *Catalog) ModelCount() int {
	return c.Options().Count()
}

// Models returns the worklist in source order.
func (c *Catalog) Models() []ModelConfig {
	return c.Options().Models()
}

// #endregion catalog
