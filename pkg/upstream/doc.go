// Package upstream is the HTTP client for the managed worker. Forwarded
// chat-completion calls use a 120-second budget; the models proxy uses
// 10 seconds. Transport failures of chat-completion calls never surface
// as errors: they become synthesized 500 results. The models proxy
// returns its transport error to the caller.
package upstream
