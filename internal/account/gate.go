package account

// DenyReason explains a login gate denial.
type DenyReason string

const (
	// DenyInactive means the administrative kill-switch is off.
	DenyInactive DenyReason = "INACTIVE"

	// DenyStatus means the lifecycle status is not active.
	DenyStatus DenyReason = "STATUS"
)

// Decision is the outcome of a single login-eligibility check. Derived, never
// persisted, and never cached beyond the check that produced it: status can
// change between requests.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
	Detail  string     `json:"detail,omitempty"`
}

// Gate decides whether an authenticated account may use the system. The
// activation flag is checked first and independently of lifecycle status:
// the flag is an administrative kill-switch, the status a business state
// machine, and both must pass. An empty status is treated as active so that
// records predating the status field keep working.
func Gate(acct *Account) Decision {
	if acct == nil {
		return Decision{Allowed: false, Reason: DenyInactive}
	}
	if !acct.Active {
		return Decision{Allowed: false, Reason: DenyInactive}
	}
	if acct.Status != "" && acct.Status != StatusActive {
		return Decision{Allowed: false, Reason: DenyStatus, Detail: acct.Status}
	}
	return Decision{Allowed: true}
}
