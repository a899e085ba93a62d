// Package ws streams host notifications over a WebSocket and accepts host
// events and permission answers on the same connection.
//
// Client messages:
//
//	{"type":"event","task_id":"t1","payload":{...}}   // task_id omitted targets main
//	{"type":"permission","correlation":"...","decision":"Allow"}
//	{"type":"ping"}
package ws
