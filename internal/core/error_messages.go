// Package core implements the student bulk-import pipeline.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When school staff hit an error, they can quote the code to support for
// faster diagnosis.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: upload exceeds IMPORT_MAX_FILE_SIZE
//	          Patterns: "file too large", "request body too large"
//	FILE002 - Malformed file: rows do not line up with the header, broken quoting
//	          Patterns: "malformed input"
//	FILE003 - Unsupported type: neither .csv nor .xlsx
//	          Patterns: "unsupported file type"
//	FILE004 - No file: the multipart "file" field is missing
//	          Patterns: "no file provided"
//	FILE005 - Empty file: no header row or no data row
//	          Patterns: "must contain a header row"
//
// Row validation failures are not errors. They are returned per row in
// ImportResult.Errors and never pass through MapError.
//
// # Authorization Errors (AUTH001-AUTH099)
//
//	AUTH001 - Permission denied: role may not import students
//	          Patterns: "permission denied"
//	AUTH002 - Not signed in: bearer token missing
//	          Patterns: "missing bearer token"
//	AUTH003 - Session invalid: token expired, malformed or signed with another key
//	          Patterns: "invalid token", "token is expired"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - System busy: all import slots taken
//	         Patterns: "too many concurrent imports"
//	IMP002 - Run not found: async run id unknown or already evicted
//	         Patterns: "import run not found"
//	IMP003 - Request cancelled
//	         Patterns: "context canceled"
//	IMP004 - Request timed out
//	         Patterns: "context deadline exceeded"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate student: email or admission number already exists
//	        Patterns: "duplicate key", "unique constraint", "violates unique"
//	DB002 - Unknown reference: school or class does not exist
//	        Patterns: "foreign key"
//	DB003 - Connection refused
//	        Patterns: "connection refused"
//	DB004 - Connection reset
//	        Patterns: "connection reset"
//	DB005 - Deadlock
//	        Patterns: "deadlock"
//	DB006 - Timeout
//	        Patterns: "timeout"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches. Check the application logs for the
// original technical error.
//
// Patterns are matched case-insensitively with strings.Contains; the first
// match wins, so specific patterns come before general ones.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// Order matters: the first matching pattern wins.
var errorPatterns = []errorPattern{
	// File errors
	{"file too large", UserMessage{"File exceeds the maximum upload size", "Split the file into smaller imports", "FILE001"}},
	{"request body too large", UserMessage{"File exceeds the maximum upload size", "Split the file into smaller imports", "FILE001"}},
	{"must contain a header row", UserMessage{"The file has no student rows", "Add a header row and at least one student below it", "FILE005"}},
	{"malformed input", UserMessage{"The file could not be read", "Make sure every row has the same number of columns as the header", "FILE002"}},
	{"unsupported file type", UserMessage{"This file type is not supported", "Upload a .csv or .xlsx file", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a CSV file to import", "FILE004"}},

	// Authorization errors
	{"permission denied", UserMessage{"You are not allowed to import students", "Ask a school administrator to run the import", "AUTH001"}},
	{"missing bearer token", UserMessage{"You are not signed in", "Sign in and try again", "AUTH002"}},
	{"invalid token", UserMessage{"Your session is no longer valid", "Sign in again", "AUTH003"}},
	{"token is expired", UserMessage{"Your session has expired", "Sign in again", "AUTH003"}},

	// Import run errors
	{"too many concurrent imports", UserMessage{"System is busy processing other imports", "Please wait a moment and try again", "IMP001"}},
	{"import run not found", UserMessage{"Import run not found", "The run may have expired. Check the import history", "IMP002"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "IMP003"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try importing a smaller file", "IMP004"}},

	// Database errors
	{"duplicate key", UserMessage{"A student with this email or admission number already exists", "Remove existing students from the file", "DB001"}},
	{"unique constraint", UserMessage{"A student with this email or admission number already exists", "Remove existing students from the file", "DB001"}},
	{"violates unique", UserMessage{"A duplicate value was found", "Check the file for repeated emails or admission numbers", "DB001"}},
	{"foreign key", UserMessage{"Referenced school or class does not exist", "Check that the class exists for your school", "DB002"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB003"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB004"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB005"}},
	{"timeout", UserMessage{"Operation timed out", "Try importing a smaller file or try again later", "DB006"}},

	// Rate limiting
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when no pattern matches (ERR000).
// This is the fallback for unexpected errors. Support staff should check
// application logs for the original technical error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
//
// Example:
//
//	msg := MapError(ErrTooManyImports)
//	// msg.Code == "IMP001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing checks if an error matches a known pattern and should be shown to users.
// Returns true if the error matches a specific pattern (not the generic ERR000 fallback).
// Use this to decide whether to show the raw error or the mapped user message.
//
// Example:
//
//	if IsUserFacing(err) {
//	    showToUser(FormatUserError(err))
//	} else {
//	    log.Error(err) // Log technical error
//	    showToUser("An error occurred. Please try again.")
//	}
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	msg := MapError(err)
	return msg.Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
// The original error is preserved for logging while providing a clean message for users.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError by mapping a technical error to a user-friendly message.
// The returned UserError preserves the original technical error for logging via Unwrap(),
// while providing a clean user message via Error().
//
// Returns nil if err is nil.
//
// Example:
//
//	ue := NewUserError(dbErr)
//	log.Error(ue.Technical)          // Log original error
//	fmt.Println(ue.User.Code)         // Show "DB001"
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
