package mitmproxy

// Hooks is the capability struct the proxy posts lifecycle events through,
// per the dynamic-dispatch-on-delegate-protocols redesign note: a struct of
// function-typed fields instead of a delegate interface a shell would have
// to subclass. Every field is optional; withDefaults fills the gaps with
// no-ops so call sites never nil-check before invoking one.
type Hooks struct {
	// OnBlocked fires when a request is blocked, either over CONNECT
	// (url is the bare host) or plain HTTP (url is the full request URL).
	OnBlocked func(url, ruleTag string)

	// OnAllowed fires once a connection or request has been let through
	// to origin, after the filter decision but before streaming begins.
	OnAllowed func(url string)

	// OnError fires on a connection-local failure once the target is known:
	// an invalid host, leaf minting, the origin dial, or forwarding the
	// buffered request. url is the host, or the full request URL on the
	// plain-HTTP path. Malformed requests answered with 400 and TLS
	// handshake failures (see OnTLSHandshake) do not fire it.
	OnError func(url string, err error)

	// OnTLSHandshake fires at most once per intercepted connection: with
	// ok=true once both the client-facing and origin-facing handshakes
	// succeed, or ok=false when the first of them fails. A failure to mint
	// the leaf or to dial the origin reports through OnError instead, and
	// OnTLSHandshake does not fire for that connection.
	OnTLSHandshake func(domain string, ok bool)
}

// NewHooks returns a Hooks with every field set to a no-op.
func NewHooks() Hooks {
	return Hooks{
		OnBlocked:      func(string, string) {},
		OnAllowed:      func(string) {},
		OnError:        func(string, error) {},
		OnTLSHandshake: func(string, bool) {},
	}
}

// withDefaults fills any nil field of h with a no-op, so a caller-supplied
// Hooks built with only the fields it cares about is always safe to call
// through.
func (h Hooks) withDefaults() Hooks {
	d := NewHooks()
	if h.OnBlocked == nil {
		h.OnBlocked = d.OnBlocked
	}
	if h.OnAllowed == nil {
		h.OnAllowed = d.OnAllowed
	}
	if h.OnError == nil {
		h.OnError = d.OnError
	}
	if h.OnTLSHandshake == nil {
		h.OnTLSHandshake = d.OnTLSHandshake
	}
	return h
}
