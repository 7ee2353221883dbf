package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the local API under /api behind auth.
func RegisterRoutes(router gin.IRouter, auth gin.HandlerFunc, syncH *SyncHandler, friendH *FriendHandler, sessionH *SessionHandler) {
	api := router.Group("/api", auth)

	api.GET("/conversations", syncH.ListConversations)
	api.GET("/conversations/search", syncH.SearchConversations)
	api.GET("/threads/:peer_id", syncH.GetThread)
	api.POST("/threads/:peer_id/open", syncH.OpenThread)
	api.POST("/threads/:peer_id/close", syncH.CloseThread)
	api.POST("/threads/:peer_id/messages", syncH.PostMessage)
	api.POST("/threads/:peer_id/messages/:message_id/resend", syncH.ResendMessage)
	api.PUT("/users/:user_id/presence", syncH.SetPresence)
	api.GET("/status", syncH.GetStatus)
	api.POST("/sync", syncH.Sync)

	api.GET("/friends", friendH.ListFriends)
	api.POST("/friends", friendH.AddFriend)
	api.DELETE("/friends/:friend_id", friendH.RemoveFriend)

	api.GET("/session", sessionH.Me)
	api.POST("/session/sign-out", sessionH.SignOut)
}
