// Package rbac implements role-based access control for workspaces.
//
// Two catalog strategies are supported. The join strategy resolves a
// member's permissions through the roles -> role_permissions ->
// permissions tables and is the default for server deployments. The
// static strategy ships a fixed in-code catalog for the four built-in
// tiers and needs no catalog tables at all, which suits single-tenant
// installs where the roles never change.
//
// Both strategies answer the same Evaluator interface, so the rest of
// the system never knows which one is wired in.
package rbac
