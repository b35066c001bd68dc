// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, relay statistics, and the built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/Tyrowin/gorelay/internal/transport"
)

// WebSocketHandler handles WebSocket upgrade requests. It validates that the
// request uses the GET method, upgrades the connection, and serves the
// resulting session on the relay until it ends.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	t := transport.NewWebSocket(conn, r.RemoteAddr, s.cfg.MaxMessageSize)
	if err := s.relay.Serve(t); err != nil && !errors.Is(err, relay.ErrRelayClosed) {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket session ended")
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoRelay server is running!")
}

// StatsHandler reports relay counters and the live session list as JSON.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.relay.Stats()); err != nil {
		s.log.Error().Err(err).Msg("Error writing stats response")
	}
}

// TestPageHandler serves an HTML page for exercising the relay protocol from
// a browser: connect with a nickname, message another identity and watch
// presence updates arrive.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		s.log.Error().Err(err).Msg("Error writing HTML response")
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>GoRelay WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>GoRelay WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="nickname" placeholder="Nickname">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="recipient" placeholder="Recipient identity" disabled>
        <input type="text" id="body" placeholder="Message" disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button id="whoButton" onclick="send('REQUEST_ONLINE_USERS', [])" disabled>Who</button>
    </div>

    <div id="log"></div>

    <script>
        let ws = null;
        let identity = '';
        const logDiv = document.getElementById('log');
        const statusDiv = document.getElementById('status');
        const controls = ['recipient', 'body', 'sendButton', 'whoButton'].map(id => document.getElementById(id));

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '3px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            logDiv.appendChild(line);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected as ' + identity : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            controls.forEach(c => c.disabled = !connected);
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(kind, fields) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({kind: kind, fields: fields}));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                send('CONNECT_REQUEST', [document.getElementById('nickname').value || 'guest']);
            };

            ws.onmessage = function(event) {
                const env = JSON.parse(event.data);
                const f = env.fields;
                switch (env.kind) {
                case 'CONNECTION_ACCEPTED':
                    identity = f[0];
                    updateStatus(true);
                    addLine('Online: ' + f.slice(1).join(', '));
                    break;
                case 'MESSAGE':
                    addLine(f[0] + ': ' + f[2], 'green');
                    break;
                case 'MESSAGE_NOT_DELIVERED':
                    addLine('Not delivered to ' + f[0] + ': ' + f[1], 'red');
                    break;
                default:
                    addLine(env.kind + ' ' + f.join(' | '));
                }
            };

            ws.onclose = function() {
                addLine('Connection closed');
                identity = '';
                updateStatus(false);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                send('DISCONNECT_REQUEST', []);
            } else {
                connect();
            }
        }

        function sendMessage() {
            const recipient = document.getElementById('recipient').value.trim();
            const input = document.getElementById('body');
            const body = input.value.trim();
            if (recipient && body) {
                send('MESSAGE', [identity, recipient, body]);
                addLine('You -> ' + recipient + ': ' + body, 'blue');
                input.value = '';
            }
        }

        document.getElementById('body').addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
