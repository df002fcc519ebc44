package rpcerr

import (
	"errors"
	"testing"
)

func TestFailureCategory_Retryable(t *testing.T) {
	tests := []struct {
		cat  FailureCategory
		want bool
	}{
		{CategoryNetwork, true},
		{CategoryTimeout, true},
		{CategoryPermission, false},
		{CategoryValidation, false},
		{CategoryNotFound, false},
		{CategoryUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.cat), func(t *testing.T) {
			if got := tt.cat.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureCategory
	}{
		{"timeout string", errors.New("context deadline exceeded"), CategoryTimeout},
		{"connection refused", errors.New("dial tcp: connection refused"), CategoryNetwork},
		{"forbidden", errors.New("403 forbidden"), CategoryPermission},
		{"missing field", errors.New("missing required field: path"), CategoryValidation},
		{"not found", errors.New("file not found"), CategoryNotFound},
		{"opaque", errors.New("something broke"), CategoryUnknown},
		{"domain tool not found", New(ToolNotFound, "no such tool"), CategoryNotFound},
		{"domain invalid input", New(InvalidInput, "bad params"), CategoryValidation},
		{"domain approval denied", New(ApprovalDenied, "denied"), CategoryPermission},
		{"domain execution timeout", New(ExecutionError, "handler TIMEOUT"), CategoryTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapAndAs(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ExecutionError, cause)

	extracted, ok := As(err)
	if !ok {
		t.Fatal("expected As to find the wrapped *Error")
	}
	if extracted.Code != ExecutionError {
		t.Errorf("Code = %v, want %v", extracted.Code, ExecutionError)
	}
	if !errors.Is(err, err) {
		t.Error("errors.Is should be reflexive")
	}
	if errors.Unwrap(err) != cause {
		t.Error("Unwrap should return the original cause")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(ToolNotFound, "x")); got != ToolNotFound {
		t.Errorf("CodeOf = %v, want %v", got, ToolNotFound)
	}
	if got := CodeOf(errors.New("opaque")); got != ExecutionError {
		t.Errorf("CodeOf(opaque) = %v, want %v", got, ExecutionError)
	}
}
