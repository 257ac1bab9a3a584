// Package session
// Author: momentics <momentics@gmail.com>
//
// Chat session state: who is logged in on which connection (presence) and
// which room each connection currently listens to. Both services are plain
// values injected into the router, handlers and responser, and are cleaned
// up through the reactor's remove hook when a connection goes away.

package session
