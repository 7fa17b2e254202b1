package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/velmie/actionqueue"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

// exitError carries a process exit code.
type exitError struct {
	code int
	msg  string
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}

	return e.msg
}

func (e *exitError) Unwrap() error {
	return e.err
}

func usageError(msg string, err error) *exitError {
	return &exitError{code: exitUsage, msg: msg, err: err}
}

func exitCode(err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}

	return exitFailure
}

type response struct {
	Status string         `json:"status"`
	Data   any            `json:"data,omitempty"`
	Error  *responseError `json:"error,omitempty"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// printer renders command results as text or as a JSON envelope.
type printer struct {
	format string
	w      io.Writer
}

func (p printer) success(data any, text func(w io.Writer)) error {
	if p.format == formatJSON {
		return json.NewEncoder(p.w).Encode(response{Status: "ok", Data: data})
	}
	text(p.w)

	return nil
}

func (p printer) rejected(err *actionqueue.LogicError) error {
	if p.format == formatJSON {
		return json.NewEncoder(p.w).Encode(response{
			Status: "error",
			Error:  &responseError{Code: err.Code, Message: err.Message},
		})
	}
	fmt.Fprintf(p.w, "rejected [%s]: %s\n", err.Code, err.Message)

	return nil
}
