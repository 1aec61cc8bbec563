// Package protocol описывает сообщения протокола mutexo и их CBOR-кодек.
//
// Каждое сообщение на проводе - CBOR-массив, первый элемент которого
// является тегом типа:
//
//	[0..3]  free / lock / input / output       [tag, [txHash, index], address]
//	[4..5]  mutexSuccess / mutexFailure        [tag, id, op, [refs...]]
//	[6]     close                              [tag]
//	[7]     error                              [tag, code]
//	[8]     subSuccess                         [tag, id]
//	[9]     subFailure                         [tag, id, code]
//	[10,11] sub / unsub                        [tag, id, eventType, [filters...]]
//	[12]    lock request                       [tag, id, [refs...], required]
//	[13]    free request                       [tag, id, [refs...]]
//
// Фильтр кодируется как [type, value], где value - адрес (строка) или
// ссылка на UTxO.
package protocol
