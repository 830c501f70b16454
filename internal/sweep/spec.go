package sweep

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Trial 为一组参数覆盖。Overrides 按配置文件的嵌套结构书写，
// 直接合并到基础配置之上。
type Trial struct {
	Name      string         `yaml:"name"`
	Overrides map[string]any `yaml:"overrides"`
}

// Spec 描述一次参数扫描：基础配置不动，每个 trial 在其上叠加
// 自己的覆盖并独立回放。
type Spec struct {
	Name        string  `yaml:"name"`
	Timeframe   string  `yaml:"timeframe"`
	Parallelism int     `yaml:"parallelism"`
	Trials      []Trial `yaml:"trials"`
}

// LoadSpec 读取并校验扫描描述文件。
func LoadSpec(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sweep spec: %w", err)
	}
	var spec Spec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("sweep spec: parsing %s failed: %w", path, err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("sweep spec %s: %w", path, err)
	}
	return &spec, nil
}

func (s *Spec) validate() error {
	if len(s.Trials) == 0 {
		return fmt.Errorf("trials cannot be empty")
	}
	if s.Timeframe == "" {
		return fmt.Errorf("timeframe must be set")
	}
	if s.Parallelism < 0 {
		return fmt.Errorf("parallelism must be >= 0")
	}
	seen := make(map[string]struct{}, len(s.Trials))
	for i, tr := range s.Trials {
		if tr.Name == "" {
			return fmt.Errorf("trials[%d].name cannot be empty", i)
		}
		if _, dup := seen[tr.Name]; dup {
			return fmt.Errorf("duplicate trial name %q", tr.Name)
		}
		seen[tr.Name] = struct{}{}
	}
	return nil
}
