package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Detail message shapes Postgres emits for constraint violations.
var (
	reDetailKey       = regexp.MustCompile(`Key \(([^)]+)\)=`)
	reStillReferenced = regexp.MustCompile(`is still referenced from table "?([^"]+)"?`)
	reMissingParent   = regexp.MustCompile(`is not present in table "?([^"]+)"?`)
)

// MapDBError converts low-level database failures into taxonomy errors:
// context deadline and cancellation become Timeout and Canceled, pgx.ErrNoRows
// becomes NotFound, and constraint violations become Conflict, ForeignKey, or
// Validation with an operator-readable message. Anything unrecognized passes
// through unchanged.
func MapDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: CodeTimeout, Message: "Operation timed out.", Cause: err}
	case errors.Is(err, context.Canceled):
		return &AppError{Code: CodeCanceled, Message: "Operation was canceled.", Cause: err}
	case errors.Is(err, pgx.ErrNoRows):
		return &AppError{Code: CodeNotFound, Message: "Resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &AppError{
			Code:    CodeConflict,
			Message: "This value already exists. Please choose a different one.",
			Field:   conflictField(pgErr),
			Cause:   pgErr,
		}
	case pgerrcode.ForeignKeyViolation:
		return &AppError{Code: CodeForeignKey, Message: foreignKeyMessage(pgErr), Cause: pgErr}
	case pgerrcode.NotNullViolation:
		return fieldValidation(pgErr,
			"This field is required.",
			"Required field is missing. Please check your input.")
	case pgerrcode.CheckViolation:
		return fieldValidation(pgErr,
			"This field has an invalid value.",
			"Invalid data. Please check your input.")
	default:
		return &AppError{Code: CodeInternal, Message: "A database error occurred.", Cause: pgErr}
	}
}

func fieldValidation(pgErr *pgconn.PgError, withField, withoutField string) *AppError {
	if pgErr.ColumnName != "" {
		return &AppError{Code: CodeValidation, Message: withField, Field: pgErr.ColumnName, Cause: pgErr}
	}
	return &AppError{Code: CodeValidation, Message: withoutField, Cause: pgErr}
}

// conflictField names the column behind a unique violation: column metadata
// when the server sends it, then the "Key (...)=" detail, then the
// constraint name.
func conflictField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := reDetailKey.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return m[1]
	}
	return fieldFromConstraint(pgErr.ConstraintName)
}

// foreignKeyMessage distinguishes deleting a referenced parent from writing
// a child whose parent is missing, and names the other table in domain
// terms.
func foreignKeyMessage(pgErr *pgconn.PgError) string {
	if m := reStillReferenced.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return "Cannot delete because this item is in use by " + tableNoun(m[1]) + "."
	}
	if m := reMissingParent.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return "Cannot complete operation because the referenced " + tableNoun(m[1]) + " does not exist."
	}
	if pgErr.TableName != "" {
		return "Cannot complete operation because this item is in use by " + tableNoun(pgErr.TableName) + "."
	}
	return genericForeignKeyMessage(pgErr.ConstraintName)
}

// tableNouns maps table names to the nouns operators see in messages.
var tableNouns = map[string]string{
	"scheduler_jobs":           "Scheduled Job",
	"scheduler_job_executions": "Execution",
	"job_definitions":          "Job Definition",
	"devices":                  "Device",
	"device_interfaces":        "Interface",
	"device_groups":            "Device Group",
	"optical_power_readings":   "Power Reading",
}

func tableNoun(table string) string {
	table = strings.ToLower(strings.TrimSpace(table))
	if noun, ok := tableNouns[table]; ok {
		return noun
	}
	return titleWords(strings.ReplaceAll(table, "_", " "))
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// fieldFromConstraint recovers a column from names like
// "scheduler_jobs_name_key". Multi-column and expression constraints give
// ambiguous segments, so they come back empty.
func fieldFromConstraint(constraint string) string {
	if constraint == "" {
		return ""
	}

	// Strip a known table prefix first; multi-word tables such as
	// "scheduler_jobs" would otherwise defeat segment counting.
	for table := range tableNouns {
		rest, ok := strings.CutPrefix(constraint, table+"_")
		if !ok {
			continue
		}
		if parts := strings.Split(rest, "_"); len(parts) == 2 && !isSQLFunction(parts[0]) {
			return parts[0]
		}
		return ""
	}

	parts := strings.Split(constraint, "_")
	if len(parts) == 3 && !isSQLFunction(parts[1]) {
		return parts[1]
	}
	return ""
}

// genericForeignKeyMessage is the last resort when the violation carries no
// usable detail, keyed off well-known constraint name fragments.
func genericForeignKeyMessage(constraint string) string {
	constraint = strings.ToLower(constraint)
	switch {
	case strings.Contains(constraint, "job_definition"):
		return "Cannot delete job definition because it is in use by a Scheduled Job."
	case strings.Contains(constraint, "device"):
		return "Cannot delete device because it has Interfaces or Power Readings."
	case strings.Contains(constraint, "job"):
		return "Cannot delete because it is in use by an Execution."
	default:
		return "Cannot complete operation because this item is in use."
	}
}

// sqlFunctionNames are functions that show up as segments in expression
// index constraint names and must not be mistaken for columns.
var sqlFunctionNames = map[string]bool{
	"lower": true, "upper": true, "trim": true, "ltrim": true, "rtrim": true,
	"md5": true, "sha1": true, "sha256": true, "encode": true, "decode": true,
}

func isSQLFunction(s string) bool { return sqlFunctionNames[strings.ToLower(s)] }
