package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/caldav-core/internal/config"
)

// LDAPClient implements Source against a directory server, grounded on the
// teacher's own go-ldap/v3-based client (formerly used for bind
// authentication and per-request ACL lookup; kept here for the narrower
// job of periodic user/group mirroring).
type LDAPClient struct {
	cfg    config.LDAPConfig
	logger zerolog.Logger
	conn   *ldap.Conn
}

func NewLDAPClient(cfg config.LDAPConfig, logger zerolog.Logger) (*LDAPClient, error) {
	l, err := dialLDAPAuto(cfg)
	if err != nil {
		logger.Error().Err(err).Str("url", cfg.URL).Msg("failed to dial LDAP")
		return nil, err
	}
	if cfg.BindDN != "" {
		if err := l.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
			logger.Error().Err(err).Str("bind_dn", cfg.BindDN).Msg("initial bind failed")
			l.Close()
			return nil, err
		}
	}
	return &LDAPClient{cfg: cfg, logger: logger, conn: l}, nil
}

func (l *LDAPClient) Close() {
	if l.conn != nil {
		l.conn.Close()
	}
}

func (l *LDAPClient) ListUsers(ctx context.Context) ([]User, error) {
	req := ldap.NewSearchRequest(
		l.cfg.UserBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, int(l.cfg.Timeout.Seconds()), false,
		"(objectClass=person)",
		userAttrList(l.cfg),
		nil,
	)
	res, err := l.conn.SearchWithPaging(req, 500)
	if err != nil {
		l.logger.Error().Err(err).Str("user_base_dn", l.cfg.UserBaseDN).Msg("LDAP search failed in ListUsers")
		return nil, err
	}
	out := make([]User, 0, len(res.Entries))
	for _, e := range res.Entries {
		out = append(out, User{
			UID:         firstNonEmpty(e.GetAttributeValue(l.cfg.TokenUserAttr), e.GetAttributeValue("uid")),
			DN:          e.DN,
			DisplayName: firstNonEmpty(e.GetAttributeValue("displayName"), e.GetAttributeValue("cn")),
			Mail:        e.GetAttributeValue("mail"),
		})
	}
	return out, nil
}

func (l *LDAPClient) ListGroups(ctx context.Context) ([]Group, error) {
	req := ldap.NewSearchRequest(
		l.cfg.GroupBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, int(l.cfg.Timeout.Seconds()), false,
		"(objectClass=groupOfNames)",
		[]string{"dn", "cn", l.cfg.MemberAttr},
		nil,
	)
	res, err := l.conn.SearchWithPaging(req, 500)
	if err != nil {
		l.logger.Error().Err(err).Str("group_base_dn", l.cfg.GroupBaseDN).Msg("LDAP search failed in ListGroups")
		return nil, err
	}
	out := make([]Group, 0, len(res.Entries))
	for _, e := range res.Entries {
		memberDNs := e.GetAttributeValues(l.cfg.MemberAttr)
		members := make([]string, 0, len(memberDNs))
		for _, dn := range memberDNs {
			uid, err := l.uidForDN(dn)
			if err != nil {
				l.logger.Warn().Err(err).Str("member_dn", dn).Msg("could not resolve group member to uid")
				continue
			}
			members = append(members, uid)
		}
		out = append(out, Group{CN: e.GetAttributeValue("cn"), DN: e.DN, Members: members})
	}
	return out, nil
}

func (l *LDAPClient) uidForDN(dn string) (string, error) {
	req := ldap.NewSearchRequest(
		dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, int(l.cfg.Timeout.Seconds()), false,
		"(objectClass=*)",
		userAttrList(l.cfg),
		nil,
	)
	res, err := l.conn.Search(req)
	if err != nil || len(res.Entries) == 0 {
		return "", errors.New("member DN not resolvable")
	}
	e := res.Entries[0]
	return firstNonEmpty(e.GetAttributeValue(l.cfg.TokenUserAttr), e.GetAttributeValue("uid")), nil
}

func userAttrList(cfg config.LDAPConfig) []string {
	attrs := []string{"dn", "displayName", "mail", "uid", "cn"}
	if cfg.TokenUserAttr != "" {
		attrs = append(attrs, cfg.TokenUserAttr)
	}
	return attrs
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func dialLDAPAuto(cfg config.LDAPConfig) (*ldap.Conn, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, errors.New("LDAP URL is empty")
	}

	isLDAPS := strings.HasPrefix(strings.ToLower(u), "ldaps://")
	isLDAP := strings.HasPrefix(strings.ToLower(u), "ldap://")

	if !isLDAP && !isLDAPS {
		return nil, errors.New("URL must start with ldap:// or ldaps://")
	}

	if isLDAPS {
		tlsConfig := &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}
		hostPort := strings.TrimPrefix(u, "ldaps://")
		if host, _, err := net.SplitHostPort(hostPort); err == nil && host != "" {
			tlsConfig.ServerName = host
		} else {
			tlsConfig.ServerName = hostPort
		}
		return ldap.DialURL(u, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(u)
	if err != nil {
		return nil, err
	}

	if cfg.RequireTLS {
		tlsConfig := &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}
		hostPort := strings.TrimPrefix(u, "ldap://")
		if host, _, err := net.SplitHostPort(hostPort); err == nil && host != "" {
			tlsConfig.ServerName = host
		} else {
			tlsConfig.ServerName = hostPort
		}
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS failed: %w", err)
		}
	}

	return conn, nil
}
