package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// LDAPConfig configures the LDAP source.
type LDAPConfig struct {
	URI      string
	BaseDN   string
	BindUser string
	// Password is already decrypted.
	Password         string
	UIDAttribute     string
	EmailAttribute   string
	ManagerAttribute string
}

// searcher is the part of *ldap.Conn used here.
type searcher interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
}

// LDAP looks people up in an LDAP directory. The connection is dialed on
// first use and shared; go-ldap connections are safe for concurrent use.
type LDAP struct {
	cfg    LDAPConfig
	logger *zap.Logger
	dial   func() (searcher, func(), error)

	mu    sync.Mutex
	conn  searcher
	close func()
}

// NewLDAP creates an LDAP source.
func NewLDAP(cfg LDAPConfig, logger *zap.Logger) *LDAP {
	l := &LDAP{cfg: cfg, logger: logger.Named("ldap")}
	l.dial = l.dialAndBind
	return l
}

func (l *LDAP) dialAndBind() (searcher, func(), error) {
	conn, err := ldap.DialURL(l.cfg.URI)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", l.cfg.URI, err)
	}
	closeConn := func() { conn.Close() }
	if l.cfg.BindUser != "" {
		if err := conn.Bind(l.cfg.BindUser, l.cfg.Password); err != nil {
			closeConn()
			return nil, nil, fmt.Errorf("bind %s: %w", l.cfg.BindUser, err)
		}
	} else if err := conn.UnauthenticatedBind(""); err != nil {
		closeConn()
		return nil, nil, fmt.Errorf("anonymous bind: %w", err)
	}
	l.logger.Info("Connected to LDAP", zap.String("uri", l.cfg.URI))
	return conn, closeConn, nil
}

func (l *LDAP) connection() (searcher, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn, nil
	}
	conn, closeConn, err := l.dial()
	if err != nil {
		return nil, err
	}
	l.conn, l.close = conn, closeConn
	return conn, nil
}

// Close releases the connection.
func (l *LDAP) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.close != nil {
		l.close()
	}
	l.conn, l.close = nil, nil
}

func (l *LDAP) attributes() []string {
	return []string{l.cfg.UIDAttribute, l.cfg.EmailAttribute, l.cfg.ManagerAttribute}
}

// PersonByUID implements Source.
func (l *LDAP) PersonByUID(_ context.Context, uid string) (Person, error) {
	filter := fmt.Sprintf("(%s=%s)", l.cfg.UIDAttribute, ldap.EscapeFilter(uid))
	req := ldap.NewSearchRequest(l.cfg.BaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		1, 0, false, filter, l.attributes(), nil)
	return l.searchOne(req)
}

// PersonByDN implements Source.
func (l *LDAP) PersonByDN(_ context.Context, dn string) (Person, error) {
	req := ldap.NewSearchRequest(dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases,
		1, 0, false, "(objectClass=*)", l.attributes(), nil)
	return l.searchOne(req)
}

// drop forgets conn if it is still the shared connection, so the next
// lookup dials again.
func (l *LDAP) drop(conn searcher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != conn {
		return
	}
	if l.close != nil {
		l.close()
	}
	l.conn, l.close = nil, nil
}

// search runs req, redialing once when the shared connection has gone bad
// (server restart, idle timeout).
func (l *LDAP) search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	conn, err := l.connection()
	if err != nil {
		return nil, err
	}
	res, err := conn.Search(req)
	if !ldap.IsErrorWithCode(err, ldap.ErrorNetwork) {
		return res, err
	}
	l.logger.Warn("LDAP connection lost, redialing", zap.Error(err))
	l.drop(conn)
	if conn, err = l.connection(); err != nil {
		return nil, err
	}
	res, err = conn.Search(req)
	if ldap.IsErrorWithCode(err, ldap.ErrorNetwork) {
		l.drop(conn)
	}
	return res, err
}

func (l *LDAP) searchOne(req *ldap.SearchRequest) (Person, error) {
	res, err := l.search(req)
	if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
		return Person{}, ErrNotFound
	}
	if err != nil {
		return Person{}, fmt.Errorf("ldap search %q: %w", req.Filter, err)
	}
	if len(res.Entries) == 0 {
		return Person{}, ErrNotFound
	}
	e := res.Entries[0]
	return Person{
		UID:       e.GetAttributeValue(l.cfg.UIDAttribute),
		DN:        e.DN,
		Email:     e.GetAttributeValue(l.cfg.EmailAttribute),
		ManagerDN: e.GetAttributeValue(l.cfg.ManagerAttribute),
	}, nil
}
