// Package identity 管理本节点的密钥材料
//
// 提供 ed25519 密钥包，实现 KeyBundleService 与 Signer：
//   - 密钥生成、PEM 持久化（原子写，权限 0600）
//   - 签名与验签
//   - 公钥短标识（KeyID），用于 NetworkId 与 mailbox 寻址
package identity
