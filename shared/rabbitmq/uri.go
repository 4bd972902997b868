package rabbitmq

import (
	"fmt"
	"net/url"
	"strings"
)

type amqpURI struct {
	user     string
	password string
	host     string
	port     int
	vhost    string
}

// String renders the URI with credentials and vhost escaped; "/" is the default vhost
func (u *amqpURI) String() string {
	vhost := strings.TrimPrefix(u.vhost, "/")
	return (&url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(u.user, u.password),
		Host:   fmt.Sprintf("%s:%d", u.host, u.port),
		Path:   "/" + vhost,
	}).String()
}
