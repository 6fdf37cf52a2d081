package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

func TestWriteErrorConcealment(t *testing.T) {
	t.Parallel()

	// Скрытый и отсутствующий объект обязаны давать байт-в-байт один ответ:
	// даже завернутая причина не должна утечь в тело.
	plain := httptest.NewRecorder()
	writeError(plain, domain.ErrNotFound)

	wrapped := httptest.NewRecorder()
	writeError(wrapped, fmt.Errorf("resolve: notebook hidden by clearance: %w", domain.ErrNotFound))

	if plain.Code != http.StatusNotFound || wrapped.Code != http.StatusNotFound {
		t.Fatalf("codes: %d, %d", plain.Code, wrapped.Code)
	}
	if plain.Body.String() != wrapped.Body.String() {
		t.Errorf("bodies differ: %q vs %q", plain.Body.String(), wrapped.Body.String())
	}
}

func TestWriteErrorStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		code int
	}{
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.PolicyViolationf("cycle"), http.StatusConflict},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrSubscriptionSuspended, http.StatusConflict},
		{domain.ErrIntegrity, http.StatusBadRequest},
		{fmt.Errorf("pg: connection refused"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, c.err)
		if rec.Code != c.code {
			t.Errorf("%v: got %d, want %d", c.err, rec.Code, c.code)
		}
	}

	// Внутренняя ошибка не выносит деталей наружу.
	rec := httptest.NewRecorder()
	writeError(rec, fmt.Errorf("pg: password authentication failed"))
	if rec.Body.String() != "internal error\n" {
		t.Errorf("internal error body must be generic: %q", rec.Body.String())
	}
}
