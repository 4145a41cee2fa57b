package provisioner

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a job whose configuration cannot be rendered.
// The job is not provisioned.
type ConfigurationError struct {
	Job    string
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("job %q: %s: %s", e.Job, e.Key, e.Reason)
}

// JobErrors returns every ConfigurationError joined into err.
func JobErrors(err error) []*ConfigurationError {
	if err == nil {
		return nil
	}
	var out []*ConfigurationError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, JobErrors(e)...)
		}
		return out
	}
	var cerr *ConfigurationError
	if errors.As(err, &cerr) {
		out = append(out, cerr)
	}
	return out
}
