package consent

// Query parameter names the gateway reads privacy signals from.
const (
	ParamMode       = "gdpr_mode_"
	ParamHasConsent = "has_consent"
	ParamOptOut     = "opt"
)

// OptOutValue replaces identifying fields when the visitor may not be
// identified.
const OptOutValue = "OPT-OUT"

// Mode is the privacy regime a request is evaluated under.
type Mode int

const (
	// ModeDeactivated grants every permission; used for traffic outside
	// regulated jurisdictions or with externally collected consent.
	ModeDeactivated Mode = iota
	// ModeLoose permits anonymous tracking and cookies by default and
	// requires explicit consent only for clear-IP handling.
	ModeLoose
	// ModeStrict requires explicit consent for everything beyond
	// anonymous tracking.
	ModeStrict
)

func (m Mode) String() string {
	switch m {
	case ModeDeactivated:
		return "deactivated"
	case ModeLoose:
		return "loose"
	case ModeStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// Consent is the evaluated privacy state of one request.
type Consent struct {
	Mode       Mode
	HasConsent bool
	OptOut     bool
}

// FromValues builds a Consent from the raw query parameter values.
//
// Mode mapping: "0" (or an external has_consent=1) deactivates consent
// handling entirely, "1" selects loose, "2" selects strict, anything
// else defaults to loose. opt=out marks an opt-out.
func FromValues(mode, hasConsent, opt string) Consent {
	c := Consent{
		HasConsent: hasConsent == "1",
		OptOut:     opt == "out",
	}

	switch {
	case mode == "0" || c.HasConsent:
		c.Mode = ModeDeactivated
	case mode == "2":
		c.Mode = ModeStrict
	default:
		c.Mode = ModeLoose
	}
	return c
}

// TrackAnonymous reports whether the request may be logged at all.
// Anonymous tracking is always permitted.
func (c Consent) TrackAnonymous() bool {
	return true
}

// Cookies reports whether cookies may be read or set. Opt-out always
// forbids cookies; strict mode additionally requires explicit consent.
func (c Consent) Cookies() bool {
	if c.OptOut {
		return false
	}
	if c.Mode == ModeStrict {
		return c.HasConsent
	}
	return true
}

// Identify reports whether the visitor may be identified across
// requests (UUID cookie). Identification needs cookie permission plus,
// outside deactivated mode, explicit consent.
func (c Consent) Identify() bool {
	if !c.Cookies() {
		return false
	}
	return c.Mode == ModeDeactivated || c.HasConsent
}

// TrackIPHashed reports whether the collision-hashed IP may be stored.
// The hash is intentionally lossy, so only strict mode without consent
// withholds it.
func (c Consent) TrackIPHashed() bool {
	if c.Mode == ModeStrict {
		return c.HasConsent
	}
	return true
}

// TrackIPClear reports whether reversible IP forms (peppered hash, geo
// form) may be stored. Requires deactivated mode or explicit consent.
func (c Consent) TrackIPClear() bool {
	return c.Mode == ModeDeactivated || c.HasConsent
}

// Summary is the per-message record of the evaluated consent state.
func (c Consent) Summary() map[string]any {
	external := 0
	if c.HasConsent {
		external = 1
	}
	optOut := 0
	if c.OptOut {
		optOut = 1
	}
	return map[string]any{
		"mode":             c.Mode.String(),
		"external_consent": external,
		"opt_out":          optOut,
	}
}
