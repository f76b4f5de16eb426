// Package chat contains the live comment sources.
//
// Every source implements Adapter and turns its feed into comment.Comment
// values with escaped text, inline emote markup, a default icon and a source
// tag:
//   - BBS: wraps board.Poller, the thread poller with rollover handling.
//   - Twitch: anonymous IRC reader (go-twitch-irc), with an optional Helix
//     live check when app credentials are configured.
//   - YouTube: polls the live chat of the channel's current broadcast.
//   - Niconico: reads the watch page, joins the watch websocket and then the
//     comment server of the program.
//   - Jpnkn: subscribes to the board's MQTT feed.
//
// Live chat adapters reconnect on their own and report progress through
// status events; none of them lets an error escape to the caller.
package chat
