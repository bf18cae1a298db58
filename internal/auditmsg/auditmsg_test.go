package auditmsg

import "testing"

func TestHasPrefix(t *testing.T) {
	if !HasPrefix("AUDIT: READ,1,1,READ,SELECT,TABLE,public.t,\"select 1\",<none>") {
		t.Fatalf("expected prefix match")
	}
	if HasPrefix("connection authorized") {
		t.Fatalf("expected no prefix match")
	}
}

func TestParse(t *testing.T) {
	msg, err := Parse(`AUDIT: READ,1,1,READ,SELECT,TABLE,public.t,"select 1",<none>`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.AuditType != "READ" {
		t.Fatalf("AuditType = %q, want READ", msg.AuditType)
	}
	if msg.StatementID != 1 || msg.SubstatementID != 1 {
		t.Fatalf("ids = %d,%d want 1,1", msg.StatementID, msg.SubstatementID)
	}
	if msg.Statement != "select 1" {
		t.Fatalf("Statement = %q, want %q", msg.Statement, "select 1")
	}
	if msg.HasParameter {
		t.Fatalf("expected <none> to mean no parameter")
	}
}

func TestParse_WithParameter(t *testing.T) {
	msg, err := Parse(`AUDIT: WRITE,2,1,WRITE,INSERT,TABLE,public.t,"insert into t values ($1)",42`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !msg.HasParameter || msg.Parameter != "42" {
		t.Fatalf("Parameter = %q, HasParameter=%v, want 42/true", msg.Parameter, msg.HasParameter)
	}
}

func TestParse_RejectsMissingPrefix(t *testing.T) {
	if _, err := Parse("not an audit message"); err == nil {
		t.Fatalf("expected error for missing prefix")
	}
}

func TestParse_RejectsWrongFieldCount(t *testing.T) {
	if _, err := Parse("AUDIT: only,three,fields"); err == nil {
		t.Fatalf("expected error for wrong field count")
	}
}
