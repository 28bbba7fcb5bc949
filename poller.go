// RegisterFD, UnregisterFD, and ModifyFD (declared on Reactor in reactor.go)
// delegate to FastPoller, whose platform-native implementation lives in
// poller_linux.go (epoll) and poller_darwin.go (kqueue). Callers register
// interest like:
//
//	reactor.RegisterFD(fd, EventRead, func(events IOEvents) {
//	    // handle readable event
//	})
//
// Always call UnregisterFD before closing a file descriptor to prevent
// stale event delivery due to FD recycling.
package fibersched
