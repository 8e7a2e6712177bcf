/*
Package signaling provides the client side of the real-time signaling
channel used by the meeting client to exchange presence and control
messages with its backend.

A Connection owns exactly one WebSocket to the signaling endpoint, usually
ws://<host>:<port>/ws. At a high level it goes through the following steps:

	- connect: a fresh transport is built and the socket is opened in the
	  background; the state moves from Disconnected to Connecting
	- open: once the handshake completes the state moves to Connected and
	  the message pump starts pulling frames off the socket
	- pump: every inbound frame is classified as text, binary, or unknown,
	  stamped, and handed to the message subscribers in arrival order
	- disconnect: the socket is closed, any pending receive resolves, and
	  the state returns to Disconnected

Failures while opening or receiving move the connection into the Errored
state. Nothing reconnects on its own; call Connect again, or attach a
Reconnector if automatic retries are wanted.

Outbound payloads are plain UTF-8 strings such as "GET PARTICIPANTS". The
command subpackage offers a structured view of those strings.

Set the DEBUG environment variable to any non-empty value to print debug
messages. See the provided examples for how to use this library.
*/
package signaling
