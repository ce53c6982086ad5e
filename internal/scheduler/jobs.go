package scheduler

import (
	"errors"
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/stacksnap/snapferry/internal/domain"
)

// parser accepts standard five-field expressions plus descriptors such as @daily.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is one scheduled backup.
type Job struct {
	Name     string      `yaml:"name"`
	Kind     domain.Kind `yaml:"kind"`
	Schedule string      `yaml:"schedule"`
	DB       string      `yaml:"db,omitempty"`
	Path     string      `yaml:"path,omitempty"`
}

type jobsFile struct {
	Jobs []Job `yaml:"jobs"`
}

// LoadJobs reads and validates a jobs file.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.Configuration("load jobs", err)
	}
	return ParseJobs(data)
}

func ParseJobs(data []byte) ([]Job, error) {
	var f jobsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, domain.Configuration("parse jobs", err)
	}
	if len(f.Jobs) == 0 {
		return nil, domain.Configuration("parse jobs", errors.New("no jobs defined"))
	}

	var errs []error
	seen := map[string]bool{}
	for i := range f.Jobs {
		j := &f.Jobs[i]
		if j.Name == "" {
			j.Name = fmt.Sprintf("job-%d", i+1)
		}
		if seen[j.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate job name", j.Name))
		}
		seen[j.Name] = true

		kind, err := domain.ParseKind(string(j.Kind))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: unknown kind %q", j.Name, j.Kind))
		}
		j.Kind = kind

		if _, err := parser.Parse(j.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid schedule %q: %w", j.Name, j.Schedule, err))
		}
		switch kind {
		case domain.KindMySQL:
			if j.DB == "" {
				errs = append(errs, fmt.Errorf("%s: mysql jobs need a db", j.Name))
			}
		case domain.KindFolder:
			if j.Path == "" {
				errs = append(errs, fmt.Errorf("%s: folder jobs need a path", j.Name))
			}
		}
	}
	if len(errs) > 0 {
		return nil, domain.Configuration("parse jobs", errors.Join(errs...))
	}
	return f.Jobs, nil
}
