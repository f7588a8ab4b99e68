package server

import (
	"fmt"
	"math/rand/v2"
	"net/http"

	"github.com/meridianhq/tenantgate/internal/jsonwriter"
)

// Demo endpoint behind the request gate, kept small on purpose: it shows a
// protected route consuming the gated session.

var nicknameAdjectives = []string{
	"Big", "Little", "Crazy", "Wild", "Smooth", "Sharp", "Lucky", "Fast",
	"Cold", "Wise", "Silent", "Fierce", "Slick", "Clever", "Bold", "Sneaky",
	"Quick", "Silver", "Golden", "Dark", "Bright", "Iron", "Steel",
}

var nicknameNames = []string{
	"Tony", "Sal", "Vinny", "Joey", "Frankie", "Rocco", "Gino", "Marco",
	"Carlo", "Nico", "Luca", "Dante", "Angelo", "Bruno", "Rico", "Vito",
	"Sophia", "Isabella", "Lucia", "Rosa", "Bianca", "Stella", "Elena",
}

var nicknameTitles = []string{
	"The Bull", "The Hammer", "The Shadow", "The Wolf", "The Fox",
	"The Eagle", "The Lion", "The Shark", "The Ghost", "The Blade",
	"The Rock", "The Storm", "The Thunder", "The Machine",
}

// NicknameHandler generates a random nickname for the authenticated user.
func NicknameHandler(w http.ResponseWriter, r *http.Request) {
	data, ok := SessionFromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, "No session found")
		return
	}

	adjective := nicknameAdjectives[rand.IntN(len(nicknameAdjectives))]
	name := nicknameNames[rand.IntN(len(nicknameNames))]
	title := nicknameTitles[rand.IntN(len(nicknameTitles))]

	var nickname string
	switch rand.IntN(3) {
	case 0:
		nickname = fmt.Sprintf("%s %s", adjective, name)
	case 1:
		nickname = fmt.Sprintf("%s %s", name, title)
	default:
		nickname = fmt.Sprintf("%s %s %s", adjective, name, title)
	}

	_ = jsonwriter.Write(w, map[string]any{
		"nickname": nickname,
		"user_id":  data.UserID,
	})
}
