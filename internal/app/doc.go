// Package app — «склейка» вокруг gameclient, lifecycle, follow, status и
// healthprobe:
//   - читает конфиг (JSON + .env + TICKCLIENT_*);
//   - крутит цикл потребителя (dispatch.Queue.Run + follow.Update);
//   - подписывает журнал сообщений, строку статуса и follower на события;
//   - принимает консольные команды (help, connect, disconnect, send, status,
//     pause, resume, blur, focus).
//
// Пример:
//
//	cfg, err := app.LoadConfig("conf/tickclient.json", ".env")
//	if err != nil { log.Fatal(err) }
//	a, err := app.New(*cfg)
//	if err != nil { log.Fatal(err) }
//	if err := a.Start(ctx); err != nil { log.Fatal(err) }
//	defer a.Stop()
//	_ = a.ReadCommands(ctx, os.Stdin)
package app
