package domain

// EndpointSet is a toggle-style membership filter over endpoint names. The
// empty set means "no filter / all endpoints"; a non-empty set restricts to
// its members. Callers must not treat empty as "match nothing".
type EndpointSet map[string]struct{}

func NewEndpointSet(names ...string) EndpointSet {
	s := EndpointSet{}
	for _, n := range names {
		if n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// Allows reports whether the named endpoint passes the filter.
func (s EndpointSet) Allows(name string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[name]
	return ok
}

// EndpointInfo identifies one container-management endpoint.
type EndpointInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Names returns the members in unspecified order.
func (s EndpointSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	return out
}
