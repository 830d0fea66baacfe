// Package dispatch turns steps into DCS device commands and delivers them.
//
// A step maps to zero or more commands (Commands). The Dispatcher sends
// them in order through a Sender and waits for each acknowledgement. A nack,
// an ack timeout or a transport error is retried with linear backoff: retry
// n waits n times the backoff unit. When retries run out the step fails
// with ErrCommandFailed. Cancelling the context stops pending retries at
// once.
//
// MQTTSender is the production Sender:
//
//	esd/command/{system}/{target_point}   command, QoS 1
//	esd/ack/{system}/{command_id}         {"command_id","status":"ack|nack","reason"}
//
// Every attempt is recorded through a CommandLog (SQLiteCommandLog writes
// the dcs_commands table).
package dispatch
