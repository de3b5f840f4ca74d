package repository

import (
	"strings"
	"testing"
)

func TestJSONTextExprByDialectSQLite(t *testing.T) {
	got := jsonTextExprByDialect("sqlite", "metadata", "source")
	want := "json_extract(metadata, '$.\"source\"')"
	if got != want {
		t.Fatalf("sqlite json expr mismatch, want %s got %s", want, got)
	}
}

func TestJSONTextExprByDialectPostgres(t *testing.T) {
	got := jsonTextExprByDialect("postgres", "metadata", "source")
	want := "(metadata::jsonb ->> 'source')"
	if got != want {
		t.Fatalf("postgres json expr mismatch, want %s got %s", want, got)
	}
}

func TestBuildLikeCondition(t *testing.T) {
	condition, argCount := buildLikeCondition(nil, []string{"customer_email", " ", "customer_name"})
	if argCount != 2 {
		t.Fatalf("arg count want 2 got %d", argCount)
	}
	if condition != "customer_email LIKE ? OR customer_name LIKE ?" {
		t.Fatalf("unexpected condition: %s", condition)
	}

	pgCondition, _ := buildLikeConditionByDialect("postgres", []string{"email"})
	if !strings.Contains(pgCondition, "email ILIKE ?") {
		t.Fatalf("postgres should use ILIKE, got %s", pgCondition)
	}
}

func TestRepeatLikeArgs(t *testing.T) {
	args := repeatLikeArgs("%test%", 3)
	if len(args) != 3 {
		t.Fatalf("args len want 3 got %d", len(args))
	}
	for idx, arg := range args {
		if arg != "%test%" {
			t.Fatalf("args[%d] want %%test%% got %v", idx, arg)
		}
	}
}
