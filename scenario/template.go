package scenario

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/substation-sim/model"
)

// PeerPlaceholder is the textual form of a peer-address token.
const PeerPlaceholder = "{peer}"

// Token is one argument slot in a Template: a literal, or a placeholder
// filled with the target server's address.
type Token struct {
	peer  bool
	value string
}

// Lit returns a literal token.
func Lit(s string) Token { return Token{value: s} }

// PeerAddr returns the peer-address placeholder token.
func PeerAddr() Token { return Token{peer: true} }

// IsPeer reports whether t is the peer-address placeholder.
func (t Token) IsPeer() bool { return t.peer }

func (t Token) String() string {
	if t.peer {
		return PeerPlaceholder
	}
	return t.value
}

// Tokens converts textual arguments, mapping PeerPlaceholder to PeerAddr.
func Tokens(args ...string) []Token {
	out := make([]Token, len(args))
	for i, a := range args {
		if a == PeerPlaceholder {
			out[i] = PeerAddr()
		} else {
			out[i] = Lit(a)
		}
	}
	return out
}

// Template describes the command a task launches.
type Template struct {
	Binary string
	Args   []Token
}

// Strings renders the argument tokens back to their textual form.
func (t Template) Strings() []string {
	out := make([]string, len(t.Args))
	for i, tok := range t.Args {
		out[i] = tok.String()
	}
	return out
}

// HasPeer reports whether any argument is a peer placeholder.
func (t Template) HasPeer() bool {
	for _, tok := range t.Args {
		if tok.peer {
			return true
		}
	}
	return false
}

// DefaultServerTemplate runs the IEC 61850 test server on port 10102.
func DefaultServerTemplate() Template {
	return Template{
		Binary: "simple-iec61850-server",
		Args:   Tokens("-p", "10102", "-w", "36", "-v"),
	}
}

// DefaultClientTemplate runs one IEC 61850 client session against the
// peer on port 10102.
func DefaultClientTemplate() Template {
	return Template{
		Binary: "simple-iec61850-client",
		Args:   Tokens("-s", "1", "-p", "10102", PeerPlaceholder),
	}
}

func (t Template) validate(role model.Role) error {
	if strings.TrimSpace(t.Binary) == "" {
		return fmt.Errorf("%w: %s template has no binary", ErrInvalidTemplate, role)
	}
	if role == model.RoleServer && t.HasPeer() {
		return fmt.Errorf("%w: server template %s may not reference a peer address", ErrInvalidTemplate, t.Binary)
	}
	return nil
}

// render resolves the template for one task. peer is only consulted when
// the template has a placeholder.
func (t Template) render(peer model.NodeID, addr string) []model.Arg {
	out := make([]model.Arg, len(t.Args))
	for i, tok := range t.Args {
		if tok.peer {
			out[i] = model.Arg{Kind: model.ArgPeerAddr, Value: addr, Peer: peer}
			continue
		}
		out[i] = model.Arg{Kind: model.ArgLiteral, Value: tok.value}
	}
	return out
}
