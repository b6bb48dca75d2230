package gitsync

import (
	"fmt"
	gohttp "net/http"
	"net/url"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

// auth returns the credentials embedded in the authenticated remote URL. The
// token travels as the URL user name, the password is usually empty.
func (r Remote) auth() transport.AuthMethod {
	u, err := url.Parse(r.AuthenticatedURL)
	if err != nil || u.User == nil {
		return nil
	}

	password, _ := u.User.Password()
	return &userinfoAuth{Username: u.User.Username(), Password: password}
}

// userinfoAuth provides HTTP basic authentication from URL user info. Both
// parts may hold the token, so neither is ever printed.
type userinfoAuth struct {
	Username string
	Password string
}

func (a *userinfoAuth) String() string {
	masked := "*******"
	if a.Username == "" && a.Password == "" {
		masked = "<empty>"
	}
	return fmt.Sprintf("%s - %s", a.Name(), masked)
}

func (*userinfoAuth) Name() string {
	return "http-url-userinfo"
}

func (a *userinfoAuth) SetAuth(r *gohttp.Request) {
	r.SetBasicAuth(a.Username, a.Password)
}
