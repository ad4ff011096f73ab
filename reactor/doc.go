// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the arm-once readiness reactor used to drive
// non-blocking sockets: epoll on Linux, an unsupported stub elsewhere.
package reactor
