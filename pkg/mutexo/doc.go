// Package mutexo - клиент протокола mutexo поверх одного websocket соединения.
//
// Клиент сопоставляет ответы сервера с запросами по идентификатору,
// рассылает события подписчикам и следит за жизненным циклом соединения
// (StateConnecting -> StateReady -> StateDestroyed). Потерянное соединение
// не восстанавливается.
//
//	client, err := mutexo.Dial(ctx, ws.BackendGorilla, wsURL, mutexo.DefaultClientConfig())
//	defer client.Close()
//
//	ack, err := client.Lock(ctx, []protocol.TxOutRef{ref}, 1)
//	if _, ok := ack.(*protocol.MutexFailure); ok {
//	    // блокировку получить не удалось
//	}
//
// Все входящие сообщения обрабатываются в горутине чтения сокета по порядку,
// поэтому обработчики событий не должны блокироваться.
package mutexo
