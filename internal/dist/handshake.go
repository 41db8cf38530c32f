package dist

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"net"
	"time"

	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
)

const challengeSize = 32

type challenge [challengeSize]byte

// peerHello 握手得到的对端身份
type peerHello struct {
	name     string
	creation uint8
}

func newChallenge() (challenge, error) {
	var c challenge
	_, err := rand.Read(c[:])
	return c, err
}

// proof HMAC-SHA256(cookie, challenge)
func proof(cookie string, c challenge) []byte {
	mac := hmac.New(sha256.New, []byte(cookie))
	mac.Write(c[:])
	return mac.Sum(nil)
}

func verifyProof(cookie string, c challenge, resp []byte) bool {
	return hmac.Equal(proof(cookie, c), resp)
}

func readHandshake(conn net.Conn, want uint8) (*decoder, error) {
	op, body, err := readFrame(conn, MaxHandshakeSize)
	if err != nil {
		return nil, xerror.Wrapf(errs.ErrHandshakeFailed, "读取握手消息 %d: %v", want, err)
	}
	if op != want {
		return nil, xerror.Wrapf(errs.ErrHandshakeFailed, "期望握手消息 %d，收到 %d", want, op)
	}
	return newDecoder(body), nil
}

// handshake 四步挑战应答：NAME -> CHALLENGE -> REPLY -> ACK
// 发起方先发名字，双方各自用 cookie 证明自己；接收方收到名字后由 admit 决定是否继续
func handshake(conn net.Conn, self string, creation uint8, cookie string, initiator bool, timeout time.Duration, admit func(peerHello) error) (peerHello, error) {
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}
	if initiator {
		return initiate(conn, self, creation, cookie)
	}
	return accept(conn, self, creation, cookie, admit)
}

func initiate(conn net.Conn, self string, creation uint8, cookie string) (peerHello, error) {
	if err := writeFrame(conn, opName, newEncoder(len(self)+3).str(self).u8(creation).bytesOut()); err != nil {
		return peerHello{}, err
	}

	d, err := readHandshake(conn, opChallenge)
	if err != nil {
		return peerHello{}, err
	}
	peer := peerHello{name: d.str(), creation: d.u8()}
	var theirs challenge
	copy(theirs[:], d.take(challengeSize))
	if d.err != nil {
		return peerHello{}, xerror.Wrap(errs.ErrHandshakeFailed, "CHALLENGE 消息不完整")
	}

	ours, err := newChallenge()
	if err != nil {
		return peerHello{}, err
	}
	reply := newEncoder(2 * challengeSize).raw(proof(cookie, theirs)).raw(ours[:]).bytesOut()
	if err = writeFrame(conn, opReply, reply); err != nil {
		return peerHello{}, err
	}

	d, err = readHandshake(conn, opAck)
	if err != nil {
		return peerHello{}, err
	}
	resp := d.take(sha256.Size)
	if d.err != nil || !verifyProof(cookie, ours, resp) {
		return peerHello{}, xerror.Wrapf(errs.ErrCookieMismatch, "peer %s", peer.name)
	}
	return peer, nil
}

func accept(conn net.Conn, self string, creation uint8, cookie string, admit func(peerHello) error) (peerHello, error) {
	d, err := readHandshake(conn, opName)
	if err != nil {
		return peerHello{}, err
	}
	peer := peerHello{name: d.str(), creation: d.u8()}
	if d.err != nil || peer.name == "" {
		return peerHello{}, xerror.Wrap(errs.ErrHandshakeFailed, "NAME 消息不完整")
	}
	if admit != nil {
		if err = admit(peer); err != nil {
			return peerHello{}, err
		}
	}

	ours, err := newChallenge()
	if err != nil {
		return peerHello{}, err
	}
	msg := newEncoder(len(self) + 3 + challengeSize).str(self).u8(creation).raw(ours[:]).bytesOut()
	if err = writeFrame(conn, opChallenge, msg); err != nil {
		return peerHello{}, err
	}

	d, err = readHandshake(conn, opReply)
	if err != nil {
		return peerHello{}, err
	}
	resp := d.take(sha256.Size)
	var theirs challenge
	copy(theirs[:], d.take(challengeSize))
	if d.err != nil || !verifyProof(cookie, ours, resp) {
		return peerHello{}, xerror.Wrapf(errs.ErrCookieMismatch, "peer %s", peer.name)
	}

	if err = writeFrame(conn, opAck, proof(cookie, theirs)); err != nil {
		return peerHello{}, err
	}
	return peer, nil
}
