// Package access decides who may read, add, change or delete each kind of
// hub object.
//
// A Registry holds an ordered list of Access strategies per Kind. Check asks
// them in turn and the first grant wins; a kind with nothing registered is
// always denied.
//
//	reg := access.NewRegistry()
//	access.RegisterDefaults(reg, store)
//	reg.SetDecisionCounter(metrics.AccessDecisionsTotal)
//
// Handlers go through ModelAccessPermission, which adds the request-level
// rules (anonymous writes, inactive accounts, superusers, list reads) and
// returns errors classified for httputil.WriteErr:
//
//	if err := perms.Check(r, access.KindNamespace, ns, update); err != nil {
//		httputil.WriteErr(w, r, err)
//		return
//	}
package access
