// Package ws приводит разные реализации WebSocket к одному интерфейсу Socket.
//
// Поддерживаются два бэкенда:
//   - gorilla/websocket: сам отвечает pong на ping сервера
//   - coder/websocket: сообщения вычитываются из потокового Reader целиком
//
// Оба бэкенда доставляют события connect, data, close и error из одной
// горутины чтения, в порядке их поступления. Данные всегда приходят как []byte.
//
// # Открытие нового соединения
//
//	sock, err := ws.Dial(ctx, ws.BackendCoder, "ws://localhost:3001/events?token=...")
//	sock.On(ws.EventData, func(ev ws.Event) { ... })
//	sock.On(ws.EventClose, func(ws.Event) { ... })
//	sock.Start()
//
// # Уже открытое соединение
//
//	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
//	sock, err := ws.Wrap(conn)
//
// Dispose снимает все обработчики; закрывать соединение нужно через Close.
package ws
