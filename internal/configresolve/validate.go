package configresolve

import "fmt"

// Validate range-checks every numeric option and rejects unrecognized
// enum values. It returns every violation found, not just the
// first, so the caller can log each one before falling back to defaults.
func Validate(cfg Config) []error {
	var errs []error

	switch cfg.Database.Type {
	case "sqlite", "mysql", "postgres", "cloud":
	default:
		errs = append(errs, fmt.Errorf("database.type: unknown value %q", cfg.Database.Type))
	}

	if cfg.Database.Auth.Type != "" {
		switch cfg.Database.Auth.Type {
		case "direct", "aws-iam", "gcp-iam":
		default:
			errs = append(errs, fmt.Errorf("database.auth.type: unknown value %q", cfg.Database.Auth.Type))
		}
	}

	if h := cfg.Autodelete.MessageHours; h < 1 || h > 720 {
		errs = append(errs, fmt.Errorf("autodelete.message_hours: %d out of range [1,720]", h))
	}
	if d := cfg.Autodelete.FileHistoryDays; d < 1 || d > 365 {
		errs = append(errs, fmt.Errorf("autodelete.file_history_days: %d out of range [1,365]", d))
	}
	if d := cfg.Tasks.AutoArchiveDoneDays; d < 1 || d > 365 {
		errs = append(errs, fmt.Errorf("tasks.auto_archive_done_days: %d out of range [1,365]", d))
	}
	if h := cfg.Tasks.StaleHoursInProgress; h < 1 || h > 168 {
		errs = append(errs, fmt.Errorf("tasks.stale_hours_in_progress: %d out of range [1,168]", h))
	}
	if h := cfg.Tasks.StaleHoursWaitingReview; h < 1 || h > 720 {
		errs = append(errs, fmt.Errorf("tasks.stale_hours_waiting_review: %d out of range [1,720]", h))
	}

	return errs
}
