// Package opa exposes a Rego-scriptable bypass condition so deployments can
// add custom rules without code changes.
package opa

import (
	"context"
	"fmt"
	"log"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"mfa-gateway/internal/condition"
)

const enforceQuery = "data.mfa.bypass.enforce"

// defaultPolicy enforces MFA unconditionally; deployments override it with
// their own rules.
const defaultPolicy = `package mfa.bypass

default enforce = true
`

// Condition evaluates Rego policies against the authentication request. The
// policies decide data.mfa.bypass.enforce; false bypasses MFA.
type Condition struct {
	compiler *ast.Compiler
}

// New compiles the given Rego policies. With no policies the always-enforce
// default applies.
func New(policies ...string) (*Condition, error) {
	if len(policies) == 0 {
		policies = []string{defaultPolicy}
	}
	modules := make(map[string]string, len(policies))
	for i, policy := range policies {
		modules[fmt.Sprintf("policy_%d.rego", i)] = policy
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile bypass policies: %w", err)
	}
	return &Condition{compiler: compiler}, nil
}

// ShouldEnforce evaluates the policies. Evaluation failures and non-boolean
// results enforce MFA.
func (c *Condition) ShouldEnforce(ctx context.Context, req *condition.Request) (bool, error) {
	q := rego.New(
		rego.Query(enforceQuery),
		rego.Compiler(c.compiler),
		rego.Input(c.buildInput(req)),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		log.Printf("bypass policy: evaluation failed: %v, enforcing", err)
		return true, nil
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return true, nil
	}
	enforce, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return true, nil
	}
	return enforce, nil
}

func (c *Condition) buildInput(req *condition.Request) map[string]interface{} {
	userMap := map[string]interface{}{
		"id":    "",
		"email": "",
		"roles": []string{},
	}
	if req.User != nil {
		userMap["id"] = req.User.ID
		userMap["email"] = req.User.Email
		userMap["roles"] = req.User.Roles
	}
	realmName := ""
	if req.Realm != nil {
		realmName = req.Realm.Name()
	}
	return map[string]interface{}{
		"realm":      realmName,
		"token_type": req.TokenType,
		"client_ip":  req.ClientIP,
		"user":       userMap,
	}
}
