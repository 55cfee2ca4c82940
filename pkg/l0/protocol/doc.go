// Package protocol defines the line oriented command/response protocol
// between the host and the robot microcontroller.
//
// Every exchange is a single ASCII line terminated by '\n'. A command is
// either a bare VERB or VERB:<int>; the device answers every line it
// receives with exactly one response line:
//
//	ACTION:<TAG>[:<DETAIL>...]   acknowledgement of an actuation
//	SENSORS:<json>               sensor snapshot
//	STATUS:<json>                device status
//	PONG                         liveness reply
//	ERROR:<CODE>:<DETAIL>        logical error, e.g. unknown command
//
// ARDUINO_READY is emitted once after boot and is not a reply to anything.
package protocol
