// Package healthprobe — HTTP-опрос служебных эндпоинтов игрового сервера:
// /health (статус, тик, число клиентов) и /unit (позиция юнита).
//
//	p := healthprobe.New("http://localhost:8080", logger)
//	h, err := p.Health(ctx)
//	_ = p.StartScan(5*time.Second, func(s string) { log.Println(s) })
//	defer p.Stop()
package healthprobe
