// Package dispatch — мост между фоновыми горутинами (I/O) и единственной
// горутиной-потребителем, которая владеет состоянием клиента и вызывает
// подписчиков. Фоновый код никогда не трогает это состояние напрямую:
// он кладёт замыкание в Queue, а потребитель раз в тик выполняет Drain.
//
//	q := dispatch.Default()
//	go func() { q.Enqueue(func() { label = "connected" }) }()
//	q.Run(ctx, 16*time.Millisecond, nil) // цикл потребителя
package dispatch
