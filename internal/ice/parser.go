package ice

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	pkgerrors "rtcdoctor/pkg/errors"
)

// Server describes one STUN or TURN server.
type Server struct {
	URL        string `json:"url" yaml:"url"`
	Scheme     string `json:"scheme" yaml:"scheme"`
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	Transport  string `json:"transport" yaml:"transport"` // udp, tcp
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string `json:"-" yaml:"-"`
}

// Address returns host:port for dialing.
func (s Server) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// IsRelay reports whether the server is a TURN relay.
func (s Server) IsRelay() bool {
	return s.Scheme == "turn" || s.Scheme == "turns"
}

// Parser defines the interface for ICE URI scheme parsers
type Parser interface {
	// Parse parses a URI into a Server
	Parse(uri string) (*Server, error)

	// Scheme returns the scheme name
	Scheme() string
}

// Registry manages scheme parsers
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates a new parser registry
func NewRegistry() *Registry {
	r := &Registry{
		parsers: make(map[string]Parser),
	}

	r.Register(&uriParser{scheme: "stun", defaultPort: 3478, defaultTransport: "udp"})
	r.Register(&uriParser{scheme: "stuns", defaultPort: 5349, defaultTransport: "tcp"})
	r.Register(&uriParser{scheme: "turn", defaultPort: 3478, defaultTransport: "udp", allowTransport: true})
	r.Register(&uriParser{scheme: "turns", defaultPort: 5349, defaultTransport: "tcp", allowTransport: true})

	return r
}

// Register registers a new parser
func (r *Registry) Register(parser Parser) {
	r.parsers[strings.ToLower(parser.Scheme())] = parser
}

// Get retrieves a parser by scheme name
func (r *Registry) Get(scheme string) (Parser, bool) {
	parser, ok := r.parsers[strings.ToLower(scheme)]
	return parser, ok
}

// AutoDetect detects the scheme of uri and returns its parser
func (r *Registry) AutoDetect(uri string) (Parser, error) {
	uri = strings.TrimSpace(uri)

	idx := strings.Index(uri, ":")
	if idx <= 0 {
		return nil, fmt.Errorf("%w: missing scheme in %q", pkgerrors.ErrURIInvalid, uri)
	}

	scheme := strings.ToLower(uri[:idx])
	parser, ok := r.Get(scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrSchemeUnsupported, scheme)
	}
	return parser, nil
}

// Parse parses a URI using its auto-detected scheme
func (r *Registry) Parse(uri string) (*Server, error) {
	parser, err := r.AutoDetect(uri)
	if err != nil {
		return nil, err
	}
	return parser.Parse(strings.TrimSpace(uri))
}

// ParseAll parses every URI and applies the shared TURN credentials.
func (r *Registry) ParseAll(uris []string, username, credential string) ([]Server, error) {
	servers := make([]Server, 0, len(uris))
	for _, uri := range uris {
		if strings.TrimSpace(uri) == "" {
			continue
		}
		srv, err := r.Parse(uri)
		if err != nil {
			return nil, &pkgerrors.ServerError{URL: uri, Err: err}
		}
		if srv.IsRelay() {
			srv.Username = username
			srv.Credential = credential
		}
		servers = append(servers, *srv)
	}
	return servers, nil
}

// Schemes returns the supported schemes in sorted order
func (r *Registry) Schemes() []string {
	schemes := make([]string, 0, len(r.parsers))
	for scheme := range r.parsers {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

// uriParser handles the RFC 7064 / RFC 7065 URI forms:
//
//	stun:host[:port]
//	turn:host[:port][?transport=udp|tcp]
type uriParser struct {
	scheme           string
	defaultPort      int
	defaultTransport string
	allowTransport   bool
}

func (p *uriParser) Scheme() string { return p.scheme }

func (p *uriParser) Parse(uri string) (*Server, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrURIInvalid, err)
	}
	if !strings.EqualFold(u.Scheme, p.scheme) {
		return nil, fmt.Errorf("%w: expected %s scheme", pkgerrors.ErrURIInvalid, p.scheme)
	}
	if u.Opaque == "" {
		// stun://host is not valid ICE syntax, but it is common enough in
		// hand-written configs that we accept it.
		if u.Host == "" {
			return nil, fmt.Errorf("%w: missing host", pkgerrors.ErrURIInvalid)
		}
		u.Opaque = u.Host
	}

	srv := &Server{
		URL:       uri,
		Scheme:    p.scheme,
		Port:      p.defaultPort,
		Transport: p.defaultTransport,
	}

	hostPort := u.Opaque
	if host, port, err := net.SplitHostPort(hostPort); err == nil {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return nil, fmt.Errorf("%w: bad port %q", pkgerrors.ErrURIInvalid, port)
		}
		srv.Host = host
		srv.Port = n
	} else {
		srv.Host = strings.Trim(hostPort, "[]")
	}
	if srv.Host == "" {
		return nil, fmt.Errorf("%w: missing host", pkgerrors.ErrURIInvalid)
	}

	if u.RawQuery != "" {
		if !p.allowTransport {
			return nil, fmt.Errorf("%w: %s URIs take no query", pkgerrors.ErrURIInvalid, p.scheme)
		}
		query, err := url.ParseQuery(u.RawQuery)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pkgerrors.ErrURIInvalid, err)
		}
		if transport := strings.ToLower(query.Get("transport")); transport != "" {
			if transport != "udp" && transport != "tcp" {
				return nil, fmt.Errorf("%w: unknown transport %q", pkgerrors.ErrURIInvalid, transport)
			}
			srv.Transport = transport
		}
	}

	return srv, nil
}
