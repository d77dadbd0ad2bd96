// authrimcheck wires an in-memory/SQLite storage adapter and exercises a
// single unified authorization check from the command line — a
// demonstration harness for internal/authz, not the deliverable.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/authrim-io/authrim/internal/authz/cache"
	"github.com/authrim-io/authrim/internal/authz/check"
	"github.com/authrim-io/authrim/internal/authz/model"
	"github.com/authrim-io/authrim/internal/authz/policy"
	"github.com/authrim-io/authrim/internal/authz/rebac"
	"github.com/authrim-io/authrim/internal/authz/rebac/closure"
	"github.com/authrim-io/authrim/internal/authz/storage/sqlite"
	"go.uber.org/zap"
)

func main() {
	dbPath := flag.String("db", ":memory:", "path to the SQLite database (or :memory:)")
	tenant := flag.String("tenant", "default", "tenant id")
	subject := flag.String("subject", "", "subject id")
	relation := flag.String("relation", "viewer", "ReBAC relation to check")
	objectType := flag.String("object-type", "document", "object type")
	objectID := flag.String("object-id", "", "object id")
	permission := flag.String("permission", "", "permission string, \"<resource>:<id?>:<action>\"")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if *subject == "" || *objectID == "" {
		logger.Fatal("missing required flags", zap.String("usage", "authrimcheck -subject=u1 -object-id=doc1"))
	}

	sa, err := sqlite.Open(*dbPath)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	defer sa.Close()
	if err := sa.Bootstrap(); err != nil {
		logger.Fatal("bootstrap schema", zap.Error(err))
	}

	closureStore := closure.New(sa)
	cacheMgr := cache.New(sa, 60*time.Second)
	evaluator := rebac.New(sa, closureStore, cacheMgr, rebac.WithLogger(logger))
	policyEngine := policy.New(policy.EffectDeny)

	svc := check.NewService(evaluator, policyEngine, sa, cacheMgr, check.DefaultConfig(), nil, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := check.CheckRequest{
		Tenant:     *tenant,
		Permission: *permission,
		Timestamp:  time.Now().UTC(),
		ReBAC: &check.ReBACRequest{
			Relation:   *relation,
			ObjectType: *objectType,
			ObjectID:   *objectID,
		},
	}
	req.Subject = model.Subject{ID: *subject}

	result, err := svc.Check(ctx, req)
	if err != nil {
		logger.Fatal("check failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
