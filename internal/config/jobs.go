package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/djlord-it/ynab-sync/internal/domain"
	"github.com/djlord-it/ynab-sync/internal/schedule"
)

type jobsFile struct {
	Jobs []domain.JobDefinition `yaml:"jobs"`
}

// LoadJobs reads the job definition list from a YAML file.
func LoadJobs(path string) ([]domain.JobDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	return ParseJobs(data)
}

// ParseJobs decodes a job definition list. Unknown fields are rejected so
// typos in schedule keys do not silently fall back to an empty schedule.
func ParseJobs(data []byte) ([]domain.JobDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f jobsFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse jobs file: %w", err)
	}
	return f.Jobs, nil
}

var jobNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateJobs checks the enabled job definitions. Disabled entries are not
// inspected: they produce no resources and must never block provisioning.
// Quotas read from configuration keys are checked when they are resolved.
func ValidateJobs(jobs []domain.JobDefinition) error {
	var errs ValidationErrors
	seen := make(map[string]bool)

	for i, job := range jobs {
		if !job.Enabled {
			continue
		}

		field := fmt.Sprintf("jobs[%d]", i)
		if job.Name != "" {
			field = fmt.Sprintf("jobs[%s]", job.Name)
		}

		switch {
		case job.Name == "":
			errs = append(errs, ValidationError{Field: field + ".name", Message: "required"})
		case !jobNamePattern.MatchString(job.Name):
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: "may only contain letters, digits, '-' and '_'",
			})
		case seen[job.Name]:
			errs = append(errs, ValidationError{Field: field + ".name", Message: "duplicate job name"})
		}
		seen[job.Name] = true

		if job.IdentitySourceKey == "" {
			errs = append(errs, ValidationError{Field: field + ".identity_key", Message: "required"})
		}
		if job.AccountMapSourceKey == "" {
			errs = append(errs, ValidationError{Field: field + ".account_map_key", Message: "required"})
		}

		if err := validateSchedule(job.Schedule); err != nil {
			errs = append(errs, ValidationError{Field: field + ".schedule", Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateSchedule(s domain.Schedule) error {
	if s.Kind() == domain.ScheduleKindQuota && s.CallsPerDayKey != "" {
		if s.CallsPerDay != 0 {
			return errors.New("calls_per_day and calls_per_day_key are mutually exclusive")
		}
		return nil
	}
	_, err := schedule.Resolve(s, 0)
	return err
}
