package main

import (
	"context"
	"net/http"
	"testing"
)

func TestScopeSet(t *testing.T) {
	set := parseScopes("stats:read  data:read")
	if !set.allows(scopeStatsRead) || !set.allows(scopeDataRead) || set.allows(scopeDataWrite) {
		t.Errorf("Unexpected permissions for %v", set.sorted())
	}
	if got := set.String(); got != "data:read stats:read" {
		t.Errorf("String() = %q", got)
	}
	if !parseScopes(scopeMaster).allows(scopeAuthManage) {
		t.Error("Expected the master scope to allow everything")
	}

	if _, err := newScopeSet(nil); err == nil {
		t.Error("Expected an error for an empty scope list")
	}
	if _, err := newScopeSet([]string{scopeDataRead, "data:delete"}); err == nil {
		t.Error("Expected an error for an unknown scope")
	}
	dup, err := newScopeSet([]string{scopeDataRead, scopeDataRead})
	if err != nil || dup.String() != scopeDataRead {
		t.Errorf("Expected duplicates to collapse, got %v, %v", dup, err)
	}
}

func TestKeyStore(t *testing.T) {
	keys := keyStore{db: newTestDB(t, setupAuthSchema)}
	ctx := context.Background()

	first, err := keys.create(ctx, scopeSet{scopeStatsRead: {}}, "first")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(first.Scopes) != 1 || first.Scopes[0] != scopeMaster {
		t.Errorf("Expected the first key to be a master key, got %v", first.Scopes)
	}
	second, err := keys.create(ctx, scopeSet{scopeStatsRead: {}, scopeDataRead: {}}, "second")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	scopes, err := keys.lookup(ctx, second.RawKey)
	if err != nil || scopes.String() != "data:read stats:read" {
		t.Errorf("lookup = %v, %v", scopes, err)
	}
	if _, err = keys.lookup(ctx, "dros_nope"); err != errUnknownKey {
		t.Errorf("Expected errUnknownKey, got %v", err)
	}

	list, err := keys.list(ctx)
	if err != nil || len(list) != 2 || list[1].Description != "second" {
		t.Errorf("list = %+v, %v", list, err)
	}

	if found, err := keys.delete(ctx, second.ID); err != nil || !found {
		t.Errorf("delete = %v, %v", found, err)
	}
	if found, _ := keys.delete(ctx, second.ID); found {
		t.Error("Expected the second delete to find nothing")
	}
}

func TestAPI_AuthRejectsEmptyScopes(t *testing.T) {
	env := setupTestServer(t)
	rec := doRequest(t, env.api, http.MethodPost, "/api/auth/keys", `{"scopes": []}`)
	expectStatus(t, rec, http.StatusBadRequest)
}
